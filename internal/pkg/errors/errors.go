package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is returned when a precondition (expected status, blob sha) no longer holds.
	ErrConflict = errors.New("conflict")
)

// Class groups failures by how the pipeline reacts to them.
type Class string

const (
	ClassAuth          Class = "auth"
	ClassNotFound      Class = "not_found"
	ClassValidation    Class = "validation"
	ClassTransient     Class = "transient"
	ClassResourceLimit Class = "resource_limit"
	ClassBestEffort    Class = "best_effort"
)

// Classified attaches a Class to an underlying error.
type Classified struct {
	Class Class
	Err   error
}

func (e *Classified) Error() string {
	if e == nil || e.Err == nil {
		return string(e.Class)
	}
	return e.Err.Error()
}

func (e *Classified) Unwrap() error { return e.Err }

func Wrap(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Class: class, Err: err}
}

func Validationf(format string, args ...any) error {
	return &Classified{Class: ClassValidation, Err: fmt.Errorf(format, args...)}
}

func Transientf(format string, args ...any) error {
	return &Classified{Class: ClassTransient, Err: fmt.Errorf(format, args...)}
}

func ResourceLimitf(format string, args ...any) error {
	return &Classified{Class: ClassResourceLimit, Err: fmt.Errorf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Classified{Class: ClassNotFound, Err: fmt.Errorf(format+": %w", append(args, ErrNotFound)...)}
}

// ClassOf returns the class of err. Unclassified errors are transient.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var c *Classified
	if errors.As(err, &c) && c.Class != "" {
		return c.Class
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ClassAuth
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrInvalidArgument):
		return ClassValidation
	default:
		return ClassTransient
	}
}

// Retryable reports whether the orchestrator should retry after err.
func Retryable(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}
