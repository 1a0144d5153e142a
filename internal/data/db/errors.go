package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

// MapError classifies store failures for the orchestrator's retry policy.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperrors.ClassOf(err) != apperrors.ClassTransient {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.NotFoundf("%s", op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Transientf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case code == "23505":
			return apperrors.Wrap(apperrors.ClassValidation, errors.Join(apperrors.ErrConflict, err)) // unique_violation
		case code == "40001", code == "40P01", code == "55P03", code == "53300", code == "57P01":
			return apperrors.Transientf("%s: %w", op, err)
		case strings.HasPrefix(code, "08"):
			return apperrors.Transientf("%s: %w", op, err) // connection exception
		case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"):
			return apperrors.Wrap(apperrors.ClassValidation, err)
		}
	}
	return apperrors.Transientf("%s: %w", op, err)
}

// IsUniqueViolation reports a duplicate key error from either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint failed")
}
