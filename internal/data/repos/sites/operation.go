package sites

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

type OperationRepo interface {
	Create(dbc dbctx.Context, op *types.Operation) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Operation, error)
	GetByPaymentSessionID(dbc dbctx.Context, sessionID string) (*types.Operation, error)
	GetLatestByProject(dbc dbctx.Context, projectName string, statuses []sites.OperationStatus) (*types.Operation, error)
	ProjectNameTaken(dbc dbctx.Context, projectName string, now time.Time) (bool, error)
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []sites.OperationStatus, to sites.OperationStatus, updates map[string]interface{}) (bool, error)
	Claim(dbc dbctx.Context, id uuid.UUID, staleBefore time.Time, manual bool) (bool, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []sites.OperationStatus, updates map[string]interface{}) (bool, error)
	IncrementAttempts(dbc dbctx.Context, id uuid.UUID) error
	DeleteExpiredPending(dbc dbctx.Context, now time.Time) (int64, error)
	FailStaleProcessing(dbc dbctx.Context, staleBefore time.Time, reason string) (int64, error)
}

type operationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOperationRepo(db *gorm.DB, baseLog *logger.Logger) OperationRepo {
	return &operationRepo{
		db:  db,
		log: baseLog.With("repo", "OperationRepo"),
	}
}

func (r *operationRepo) tx(dbc dbctx.Context) *gorm.DB {
	return dbc.DB(r.db)
}

func (r *operationRepo) Create(dbc dbctx.Context, op *types.Operation) error {
	if op == nil {
		return errors.New("operation is nil")
	}
	return r.tx(dbc).Create(op).Error
}

func (r *operationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Operation, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var op types.Operation
	err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&op).Error
	if err != nil {
		return nil, err
	}
	if op.ID == uuid.Nil {
		return nil, nil
	}
	return &op, nil
}

func (r *operationRepo) GetByPaymentSessionID(dbc dbctx.Context, sessionID string) (*types.Operation, error) {
	if sessionID == "" {
		return nil, nil
	}
	var op types.Operation
	err := r.tx(dbc).Where("payment_session_id = ?", sessionID).Limit(1).Find(&op).Error
	if err != nil {
		return nil, err
	}
	if op.ID == uuid.Nil {
		return nil, nil
	}
	return &op, nil
}

func (r *operationRepo) GetLatestByProject(dbc dbctx.Context, projectName string, statuses []sites.OperationStatus) (*types.Operation, error) {
	if projectName == "" {
		return nil, nil
	}
	q := r.tx(dbc).Where("project_name = ?", projectName)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var op types.Operation
	if err := q.Order("created_at DESC").Limit(1).Find(&op).Error; err != nil {
		return nil, err
	}
	if op.ID == uuid.Nil {
		return nil, nil
	}
	return &op, nil
}

// ProjectNameTaken reports whether a live operation already holds the name.
// Failed operations and expired pending ones do not reserve a name.
func (r *operationRepo) ProjectNameTaken(dbc dbctx.Context, projectName string, now time.Time) (bool, error) {
	var count int64
	err := r.tx(dbc).
		Model(&types.Operation{}).
		Where("project_name = ? AND status <> ?", projectName, sites.StatusFailed).
		Where("NOT (status = ? AND expires_at IS NOT NULL AND expires_at < ?)", sites.StatusPending, now).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TransitionStatus is a compare-and-set on the current status. It reports
// whether the row was updated; false means the status was not one of from.
func (r *operationRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, from []sites.OperationStatus, to sites.OperationStatus, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(from) == 0 {
		return false, nil
	}
	for _, f := range from {
		if !sites.CanTransition(f, to) {
			return false, errors.New("illegal status transition " + string(f) + " -> " + string(to))
		}
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	res := r.tx(dbc).
		Model(&types.Operation{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Claim moves an operation into processing. paid and failed operations are
// claimable; a processing operation only once its claim is older than staleBefore.
func (r *operationRepo) Claim(dbc dbctx.Context, id uuid.UUID, staleBefore time.Time, manual bool) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now().UTC()
	res := r.tx(dbc).
		Model(&types.Operation{}).
		Where("id = ?", id).
		Where("(status IN ?) OR (status = ? AND (claimed_at IS NULL OR claimed_at < ?))",
			sites.ClaimableFrom(manual), sites.StatusProcessing, staleBefore,
		).
		Updates(map[string]interface{}{
			"status":         sites.StatusProcessing,
			"claimed_at":     now,
			"failure_reason": "",
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *operationRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []sites.OperationStatus, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	q := r.tx(dbc).Model(&types.Operation{}).Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *operationRepo) IncrementAttempts(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	return r.tx(dbc).
		Model(&types.Operation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *operationRepo) DeleteExpiredPending(dbc dbctx.Context, now time.Time) (int64, error) {
	res := r.tx(dbc).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", sites.StatusPending, now).
		Delete(&types.Operation{})
	return res.RowsAffected, res.Error
}

// FailStaleProcessing fails operations whose processing claim is older than
// staleBefore. Their worker is gone and no trigger is left to finish them.
func (r *operationRepo) FailStaleProcessing(dbc dbctx.Context, staleBefore time.Time, reason string) (int64, error) {
	now := time.Now().UTC()
	res := r.tx(dbc).
		Model(&types.Operation{}).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", sites.StatusProcessing, staleBefore).
		Updates(map[string]interface{}{
			"status":         sites.StatusFailed,
			"failure_reason": reason,
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}
