package sites

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Idempotency scopes name the trigger a record guards.
const (
	ScopePaymentConfirmed   = "payment_confirmed"
	ScopeNotifyFirstPublish = "notify_first_publish"
	ScopeManualGenerate     = "manual_generate"
)

// Idempotency results.
const (
	ResultEnqueued = "enqueued"
	ResultSent     = "sent"
)

// IdempotencyRecord remembers that a side effect already happened for a trigger.
type IdempotencyRecord struct {
	Key         string     `gorm:"column:idempotency_key;primaryKey" json:"idempotency_key"`
	Scope       string     `gorm:"column:scope;not null;index" json:"scope"`
	OperationID *uuid.UUID `gorm:"type:uuid;column:operation_id;index" json:"operation_id,omitempty"`
	Result      string     `gorm:"column:result;not null" json:"result"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_record" }

// IdempotencyKey derives the record key: lowercase hex sha256 of scope, a NUL
// separator, and the external reference.
func IdempotencyKey(scope, externalRef string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + externalRef))
	return hex.EncodeToString(sum[:])
}
