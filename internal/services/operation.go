package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	"github.com/yungbote/sitegen-backend/internal/inject"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/queue"
)

type CreateOperationRequest struct {
	Email              string            `json:"email"`
	ProjectName        string            `json:"projectName"`
	TemplateID         string            `json:"templateId"`
	Language           string            `json:"language"`
	Images             json.RawMessage   `json:"images"`
	Langs              map[string]string `json:"langs"`
	TextColors         map[string]string `json:"textColors"`
	SectionBackgrounds map[string]string `json:"sectionBackgrounds"`
	PaymentSessionID   string            `json:"paymentSessionId"`
}

type OperationService interface {
	Create(ctx context.Context, req CreateOperationRequest) (*types.Operation, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Operation, error)
	// RequestGeneration enqueues a manual generation run. ref, when set,
	// makes repeated requests with the same ref enqueue once.
	RequestGeneration(ctx context.Context, id uuid.UUID, ref string) (bool, error)
}

type operationService struct {
	db       *gorm.DB
	log      *logger.Logger
	ops      repos.OperationRepo
	idem     repos.IdempotencyRepo
	producer queue.Producer
	ttl      time.Duration
	idemTTL  time.Duration
}

func NewOperationService(db *gorm.DB, log *logger.Logger, r repos.Repos, producer queue.Producer, ttl, idemTTL time.Duration) OperationService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if idemTTL <= 0 {
		idemTTL = 7 * 24 * time.Hour
	}
	return &operationService{
		db:       db,
		log:      log.With("service", "OperationService"),
		ops:      r.Operation,
		idem:     r.Idempotency,
		producer: producer,
		ttl:      ttl,
		idemTTL:  idemTTL,
	}
}

func (s *operationService) Create(ctx context.Context, req CreateOperationRequest) (*types.Operation, error) {
	now := time.Now().UTC()
	expires := now.Add(s.ttl)
	op := &types.Operation{
		ID:                 uuid.New(),
		Status:             sites.StatusPending,
		Email:              req.Email,
		ProjectName:        req.ProjectName,
		TemplateID:         req.TemplateID,
		Language:           req.Language,
		Images:             datatypes.JSON(req.Images),
		Langs:              datatypes.NewJSONType(req.Langs),
		TextColors:         datatypes.NewJSONType(req.TextColors),
		SectionBackgrounds: datatypes.NewJSONType(req.SectionBackgrounds),
		ExpiresAt:          &expires,
	}
	if op.Language == "" {
		op.Language = "en"
	}
	if len(req.Images) == 0 {
		op.Images = datatypes.JSON("{}")
	}
	if req.PaymentSessionID != "" {
		sid := req.PaymentSessionID
		op.PaymentSessionID = &sid
	}
	if err := sites.ValidateOperation(op); err != nil {
		return nil, err
	}
	content, err := op.Content()
	if err != nil {
		return nil, apperrors.Validationf("invalid content: %v", err)
	}
	if err := inject.Validate(content); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		taken, err := s.ops.ProjectNameTaken(dbc, op.ProjectName, now)
		if err != nil {
			return db.MapError("check project name", err)
		}
		if taken {
			return fmt.Errorf("project %q is taken: %w", op.ProjectName, apperrors.ErrConflict)
		}
		if err := s.ops.Create(dbc, op); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("payment session already bound: %w", apperrors.ErrConflict)
			}
			return db.MapError("create operation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("operation created", "operation_id", op.ID, "project", op.ProjectName, "template_id", op.TemplateID)
	return op, nil
}

func (s *operationService) Get(ctx context.Context, id uuid.UUID) (*types.Operation, error) {
	op, err := s.ops.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, db.MapError("get operation", err)
	}
	if op == nil {
		return nil, apperrors.NotFoundf("operation %s", id)
	}
	return op, nil
}

func (s *operationService) RequestGeneration(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	op, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if op.Status == sites.StatusPending {
		return false, fmt.Errorf("operation %s is not paid: %w", id, apperrors.ErrConflict)
	}

	dbc := dbctx.Context{Ctx: ctx}
	key := ""
	if ref != "" {
		key = sites.IdempotencyKey(sites.ScopeManualGenerate, id.String()+"\x00"+ref)
		opID := op.ID
		ok, err := s.idem.Reserve(dbc, &types.IdempotencyRecord{
			Key:         key,
			Scope:       sites.ScopeManualGenerate,
			OperationID: &opID,
			Result:      sites.ResultEnqueued,
			ExpiresAt:   time.Now().UTC().Add(s.idemTTL),
		})
		if err != nil {
			return false, db.MapError("reserve idempotency", err)
		}
		if !ok {
			s.log.Info("manual generation already enqueued", "operation_id", id)
			return false, nil
		}
	}
	if err := s.producer.Enqueue(ctx, queue.NewManualMessage(op.ID)); err != nil {
		if key != "" {
			if relErr := s.idem.Release(dbc, key); relErr != nil {
				s.log.Warn("release idempotency record failed", "operation_id", id, "error", relErr)
			}
		}
		return false, apperrors.Transientf("enqueue operation %s: %v", id, err)
	}
	s.log.Info("manual generation enqueued", "operation_id", id, "status", op.Status)
	return true, nil
}
