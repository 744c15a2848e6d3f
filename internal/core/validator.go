package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// Validator wraps go-playground/validator with the tags request structs use.
// Field names in errors are the JSON names.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes one failing field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidator registers notblank and JSON field naming.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil && logger != nil {
		logger.Error("failed to register notblank validator", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or a validation AppError listing every failing
// field under details.fields. A missing required value yields
// validation_missing_required_field; anything else validation_invalid_field.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidField, "invalid request", err)
	}

	fields := make([]ValidationError, 0, len(verrs))
	code := types.ErrCodeValidationInvalidField
	for i, fe := range verrs {
		fields = append(fields, toValidationError(fe))
		if i == 0 && isMissing(fe.Tag()) {
			code = types.ErrCodeValidationMissingField
		}
	}

	return types.NewAppErrorWithDetails(code, fields[0].Message, err, map[string]any{"fields": fields})
}

func isMissing(tag string) bool {
	return tag == "required" || tag == "notblank"
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fieldPath(fe)
	var msg string
	switch fe.Tag() {
	case "required", "notblank":
		msg = fmt.Sprintf("%s is required", field)
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.Slice, reflect.Map:
			msg = fmt.Sprintf("%s must have %s %s items", field, bound, fe.Param())
		case reflect.String:
			msg = fmt.Sprintf("%s must be %s %s characters", field, bound, fe.Param())
		default:
			msg = fmt.Sprintf("%s must be %s %s", field, bound, fe.Param())
		}
	case "uuid", "uuid4":
		msg = fmt.Sprintf("%s must be a valid UUID", field)
	default:
		msg = fmt.Sprintf("%s failed the %q rule", field, fe.Tag())
	}
	return ValidationError{Field: field, Code: fe.Tag(), Message: msg}
}

// fieldPath drops the top-level struct name from the namespace, so
// EnqueueRequest.targets.user_ids[1] becomes targets.user_ids[1].
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
