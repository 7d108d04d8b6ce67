package utils

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/partnermap/pkg/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their wire name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "csv", "query"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return ""
	})
	_ = v.RegisterValidation("node_category", func(fl validator.FieldLevel) bool {
		return models.NodeCategory(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("direction", func(fl validator.FieldLevel) bool {
		return models.Direction(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("protocol", func(fl validator.FieldLevel) bool {
		return slices.Contains(models.Protocols, fl.Field().String())
	})
	_ = v.RegisterValidation("data_type", func(fl validator.FieldLevel) bool {
		return slices.Contains(models.DataTypes, fl.Field().String())
	})
	return v
}

// Validate checks struct tags on value and flattens any failures into one error.
func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ValidationErrorToString(value, err)
	}
	return value, nil
}

func ValidationErrorToString(input any, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("field '%s' failed rule '%s'", fe.Field(), ruleWithParam(fe)))
	}
	return fmt.Errorf("invalid %T: %s", input, strings.Join(parts, "; "))
}

func ruleWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// FieldIssue is one failed rule on one field.
type FieldIssue struct {
	Field string
	Rule  string
	Param string
}

// FieldIssues validates value and returns each failure separately. A nil
// result means value is valid.
func FieldIssues(value any) []FieldIssue {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldIssue{{Rule: err.Error()}}
	}
	issues := make([]FieldIssue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, FieldIssue{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return issues
}
