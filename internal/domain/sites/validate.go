package sites

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

var (
	projectSlugRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	templateIDRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	languageRe    = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})?$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("projectslug", func(fl validator.FieldLevel) bool {
		return projectSlugRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("templateid", func(fl validator.FieldLevel) bool {
		return templateIDRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("langcode", func(fl validator.FieldLevel) bool {
		return languageRe.MatchString(fl.Field().String())
	})
	return v
}

type operationShape struct {
	ProjectName string `validate:"required,projectslug"`
	TemplateID  string `validate:"required,templateid"`
	Language    string `validate:"required,langcode"`
	Email       string `validate:"required,email"`
	Status      string `validate:"required"`
}

// ValidateOperation checks the shape of an operation before generation.
// Failures are validation-class errors and are never retried.
func ValidateOperation(o *Operation) error {
	if o == nil {
		return apperrors.Validationf("operation is nil")
	}
	if !o.Status.Valid() {
		return apperrors.Validationf("unknown status %q", o.Status)
	}
	shape := operationShape{
		ProjectName: o.ProjectName,
		TemplateID:  o.TemplateID,
		Language:    o.Language,
		Email:       o.Email,
		Status:      string(o.Status),
	}
	if err := validate.Struct(shape); err != nil {
		return apperrors.Validationf("%s", describe(err))
	}
	return nil
}

// ValidProjectName reports whether name is a DNS-safe project slug.
func ValidProjectName(name string) bool {
	return projectSlugRe.MatchString(name)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "invalid operation: " + strings.Join(parts, ", ")
}
