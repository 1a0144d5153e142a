package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
)

// SeedOperation inserts a valid operation. Options run before the insert.
func SeedOperation(tb testing.TB, ctx context.Context, tx *gorm.DB, opts ...func(*types.Operation)) *types.Operation {
	tb.Helper()
	expires := time.Now().UTC().Add(24 * time.Hour)
	op := &types.Operation{
		ID:          uuid.New(),
		Status:      sites.StatusPending,
		Email:       "owner@example.com",
		ProjectName: "site-" + uuid.NewString()[:8],
		TemplateID:  "starter",
		Language:    "en",
		Images:      datatypes.JSON([]byte("{}")),
		Langs:       datatypes.NewJSONType(map[string]string{"headline": "Hello"}),
		ExpiresAt:   &expires,
	}
	for _, opt := range opts {
		opt(op)
	}
	if err := tx.WithContext(ctx).Create(op).Error; err != nil {
		tb.Fatalf("seed operation: %v", err)
	}
	return op
}

func WithStatus(s sites.OperationStatus) func(*types.Operation) {
	return func(op *types.Operation) { op.Status = s }
}

func WithProject(name string) func(*types.Operation) {
	return func(op *types.Operation) { op.ProjectName = name }
}

func WithPaymentSession(id string) func(*types.Operation) {
	return func(op *types.Operation) { op.PaymentSessionID = &id }
}

// Reload reads the operation back, failing the test when it is gone.
func Reload(tb testing.TB, tx *gorm.DB, id uuid.UUID) *types.Operation {
	tb.Helper()
	var op types.Operation
	if err := tx.Where("id = ?", id).First(&op).Error; err != nil {
		tb.Fatalf("reload operation %s: %v", id, err)
	}
	return &op
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
