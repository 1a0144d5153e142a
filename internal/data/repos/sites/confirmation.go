package sites

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

type ConfirmationCodeRepo interface {
	Upsert(dbc dbctx.Context, rec *types.ConfirmationCode) error
	Get(dbc dbctx.Context, projectName string) (*types.ConfirmationCode, error)
	IncrementAttempts(dbc dbctx.Context, projectName string) error
	Delete(dbc dbctx.Context, projectName string) error
	DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error)
}

type confirmationCodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConfirmationCodeRepo(db *gorm.DB, baseLog *logger.Logger) ConfirmationCodeRepo {
	return &confirmationCodeRepo{
		db:  db,
		log: baseLog.With("repo", "ConfirmationCodeRepo"),
	}
}

func (r *confirmationCodeRepo) tx(dbc dbctx.Context) *gorm.DB {
	return dbc.DB(r.db)
}

func (r *confirmationCodeRepo) Upsert(dbc dbctx.Context, rec *types.ConfirmationCode) error {
	return r.tx(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"email", "code_hash", "attempts", "expires_at", "updated_at"}),
		}).
		Create(rec).Error
}

func (r *confirmationCodeRepo) Get(dbc dbctx.Context, projectName string) (*types.ConfirmationCode, error) {
	var rec types.ConfirmationCode
	if err := r.tx(dbc).Where("project_name = ?", projectName).Limit(1).Find(&rec).Error; err != nil {
		return nil, err
	}
	if rec.ProjectName == "" {
		return nil, nil
	}
	return &rec, nil
}

func (r *confirmationCodeRepo) IncrementAttempts(dbc dbctx.Context, projectName string) error {
	return r.tx(dbc).
		Model(&types.ConfirmationCode{}).
		Where("project_name = ?", projectName).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *confirmationCodeRepo) Delete(dbc dbctx.Context, projectName string) error {
	return r.tx(dbc).Where("project_name = ?", projectName).Delete(&types.ConfirmationCode{}).Error
}

func (r *confirmationCodeRepo) DeleteExpired(dbc dbctx.Context, now time.Time) (int64, error) {
	res := r.tx(dbc).Where("expires_at < ?", now).Delete(&types.ConfirmationCode{})
	return res.RowsAffected, res.Error
}
