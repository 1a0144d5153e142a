package domain

import "github.com/yungbote/sitegen-backend/internal/domain/sites"

type (
	Operation         = sites.Operation
	OperationStatus   = sites.OperationStatus
	IdempotencyRecord = sites.IdempotencyRecord
	ConfirmationCode  = sites.ConfirmationCode
	Content           = sites.Content
	ImageValue        = sites.ImageValue
	ImageLayout       = sites.ImageLayout
)

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&sites.Operation{},
		&sites.IdempotencyRecord{},
		&sites.ConfirmationCode{},
	}
}
