package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/sitegen-backend/internal/data/repos/sites"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

type OperationRepo = sites.OperationRepo
type IdempotencyRepo = sites.IdempotencyRepo
type ConfirmationCodeRepo = sites.ConfirmationCodeRepo

type Repos struct {
	Operation        OperationRepo
	Idempotency      IdempotencyRepo
	ConfirmationCode ConfirmationCodeRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		Operation:        sites.NewOperationRepo(db, log),
		Idempotency:      sites.NewIdempotencyRepo(db, log),
		ConfirmationCode: sites.NewConfirmationCodeRepo(db, log),
	}
}
