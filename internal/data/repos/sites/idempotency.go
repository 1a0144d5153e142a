package sites

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

type IdempotencyRepo interface {
	Get(dbc dbctx.Context, key string, now time.Time) (*types.IdempotencyRecord, error)
	Put(dbc dbctx.Context, rec *types.IdempotencyRecord) error
	Reserve(dbc dbctx.Context, rec *types.IdempotencyRecord) (bool, error)
	Release(dbc dbctx.Context, key string) error
	DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error)
}

type idempotencyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdempotencyRepo(db *gorm.DB, baseLog *logger.Logger) IdempotencyRepo {
	return &idempotencyRepo{
		db:  db,
		log: baseLog.With("repo", "IdempotencyRepo"),
	}
}

func (r *idempotencyRepo) tx(dbc dbctx.Context) *gorm.DB {
	return dbc.DB(r.db)
}

// Get returns the live record for key, or nil when absent or expired.
func (r *idempotencyRepo) Get(dbc dbctx.Context, key string, now time.Time) (*types.IdempotencyRecord, error) {
	if key == "" {
		return nil, nil
	}
	var rec types.IdempotencyRecord
	err := r.tx(dbc).
		Where("idempotency_key = ? AND expires_at > ?", key, now).
		Limit(1).
		Find(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.Key == "" {
		return nil, nil
	}
	return &rec, nil
}

// Put writes rec, replacing any previous record under the same key.
func (r *idempotencyRepo) Put(dbc dbctx.Context, rec *types.IdempotencyRecord) error {
	return r.tx(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"scope", "operation_id", "result", "expires_at"}),
		}).
		Create(rec).Error
}

// Reserve inserts rec only if no record holds the key. An expired record is
// replaced. The boolean reports whether the caller now owns the key.
func (r *idempotencyRepo) Reserve(dbc dbctx.Context, rec *types.IdempotencyRecord) (bool, error) {
	now := time.Now().UTC()
	if err := r.tx(dbc).
		Where("idempotency_key = ? AND expires_at <= ?", rec.Key, now).
		Delete(&types.IdempotencyRecord{}).Error; err != nil {
		return false, err
	}
	res := r.tx(dbc).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *idempotencyRepo) Release(dbc dbctx.Context, key string) error {
	return r.tx(dbc).Where("idempotency_key = ?", key).Delete(&types.IdempotencyRecord{}).Error
}

func (r *idempotencyRepo) DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error) {
	res := r.tx(dbc).Where("expires_at < ?", now).Delete(&types.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
