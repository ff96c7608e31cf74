package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
)

// New returns a validator that reports JSON field names, validates
// decimal.Decimal as a number and understands the sha256 tag.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("sha256", func(fl validator.FieldLevel) bool {
		return hashchain.IsHexDigest(fl.Field().String())
	})

	return v
}

// Struct validates s and converts the first failure into a validation
// AppError that names the offending field.
func Struct(v *validator.Validate, code string, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.NewValidationError(code, err.Error()).WithCause(err)
	}

	first := fieldErrs[0]
	field := trimNamespace(first.Namespace())
	msg := fmt.Sprintf("%s failed %s validation", field, describe(first))

	violations := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, fmt.Sprintf("%s: %s", trimNamespace(fe.Namespace()), describe(fe)))
	}

	return errors.NewValidationError(code, msg).
		WithCause(err).
		WithDetails(map[string]interface{}{
			"field":      field,
			"violations": violations,
		})
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

func describe(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// trimNamespace drops the root struct name: "Object.subject.customer" -> "subject.customer".
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
