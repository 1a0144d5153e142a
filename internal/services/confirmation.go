package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
	"github.com/yungbote/sitegen-backend/internal/platform/sendgrid"
)

const (
	ConfirmationCodeDigits      = 6
	ConfirmationCodeTTL         = 15 * time.Minute
	ConfirmationCodeMaxAttempts = 5
)

var (
	ErrCodeMismatch    = errors.New("confirmation code does not match")
	ErrCodeExpired     = errors.New("confirmation code expired")
	ErrTooManyAttempts = errors.New("too many confirmation attempts")
	ErrNoPendingCode   = errors.New("no confirmation code pending")
)

// ConfirmationService issues and checks the short codes that confirm a
// save or update of an existing project.
type ConfirmationService interface {
	Issue(ctx context.Context, projectName string) error
	Verify(ctx context.Context, projectName, code string) error
}

type confirmationService struct {
	log    *logger.Logger
	ops    repos.OperationRepo
	codes  repos.ConfirmationCodeRepo
	mailer sendgrid.Mailer
	now    func() time.Time
	gen    func() (string, error)
}

func NewConfirmationService(log *logger.Logger, r repos.Repos, mailer sendgrid.Mailer) ConfirmationService {
	return &confirmationService{
		log:    log.With("service", "ConfirmationService"),
		ops:    r.Operation,
		codes:  r.ConfirmationCode,
		mailer: mailer,
		now:    func() time.Time { return time.Now().UTC() },
		gen:    randomCode,
	}
}

func randomCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", ConfirmationCodeDigits, n.Int64()), nil
}

func (s *confirmationService) Issue(ctx context.Context, projectName string) error {
	dbc := dbctx.Context{Ctx: ctx}
	op, err := s.ops.GetLatestByProject(dbc, projectName, nil)
	if err != nil {
		return db.MapError("lookup project", err)
	}
	if op == nil {
		return apperrors.NotFoundf("project %q", projectName)
	}

	code, err := s.gen()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}
	now := s.now()
	rec := &types.ConfirmationCode{
		ProjectName: projectName,
		Email:       op.Email,
		CodeHash:    string(hash),
		Attempts:    0,
		ExpiresAt:   now.Add(ConfirmationCodeTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.codes.Upsert(dbc, rec); err != nil {
		return db.MapError("store confirmation code", err)
	}

	_, err = s.mailer.Send(ctx, sendgrid.Message{
		To:         op.Email,
		Subject:    fmt.Sprintf("Your confirmation code for %s", projectName),
		Text:       fmt.Sprintf("Your confirmation code is %s.\n\nIt expires in %d minutes.\n", code, int(ConfirmationCodeTTL.Minutes())),
		Categories: []string{"confirmation_code"},
	})
	if err != nil {
		return fmt.Errorf("send confirmation code: %w", err)
	}
	s.log.Info("confirmation code issued", "project", projectName, "email", op.Email)
	return nil
}

func (s *confirmationService) Verify(ctx context.Context, projectName, code string) error {
	dbc := dbctx.Context{Ctx: ctx}
	rec, err := s.codes.Get(dbc, projectName)
	if err != nil {
		return db.MapError("load confirmation code", err)
	}
	if rec == nil {
		return apperrors.Wrap(apperrors.ClassValidation, ErrNoPendingCode)
	}
	if s.now().After(rec.ExpiresAt) {
		_ = s.codes.Delete(dbc, projectName)
		return apperrors.Wrap(apperrors.ClassValidation, ErrCodeExpired)
	}
	if rec.Attempts >= ConfirmationCodeMaxAttempts {
		return apperrors.Wrap(apperrors.ClassResourceLimit, ErrTooManyAttempts)
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
		if err := s.codes.IncrementAttempts(dbc, projectName); err != nil {
			return db.MapError("count attempt", err)
		}
		if rec.Attempts+1 >= ConfirmationCodeMaxAttempts {
			return apperrors.Wrap(apperrors.ClassResourceLimit, ErrTooManyAttempts)
		}
		return apperrors.Wrap(apperrors.ClassAuth, ErrCodeMismatch)
	}
	if err := s.codes.Delete(dbc, projectName); err != nil {
		return db.MapError("consume confirmation code", err)
	}
	s.log.Info("confirmation code verified", "project", projectName)
	return nil
}
