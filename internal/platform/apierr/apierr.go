package apierr

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps a classified error to a status and code. An *Error already
// in the chain wins. Transient and unclassified failures hide their message.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, apperrors.ErrConflict) {
		return New(http.StatusConflict, "conflict", err)
	}
	switch apperrors.ClassOf(err) {
	case apperrors.ClassAuth:
		return New(http.StatusForbidden, "forbidden", err)
	case apperrors.ClassNotFound:
		return New(http.StatusNotFound, "not_found", err)
	case apperrors.ClassValidation:
		return New(http.StatusBadRequest, "invalid_request", err)
	case apperrors.ClassResourceLimit:
		return New(http.StatusTooManyRequests, "limit_exceeded", err)
	}
	return New(http.StatusInternalServerError, "internal", errors.New("internal error"))
}
