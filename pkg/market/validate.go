package market

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report json field names instead of Go ones.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// ValidationError describes a record rejected at the input boundary.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record %d: %s %s", e.Index, e.Field, e.Reason)
}

// Validate checks that the record can be fed to the model.
func (r FeatureRecord) Validate() error {
	return validateAt(-1, r)
}

// ValidateBatch validates every record and returns the first failure.
func ValidateBatch(records []FeatureRecord) error {
	for i, r := range records {
		if err := validateAt(i, r); err != nil {
			return err
		}
	}
	return nil
}

func validateAt(index int, r FeatureRecord) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Index: index, Field: fe.Field(), Reason: describe(fe)}
		}
		return &ValidationError{Index: index, Field: "record", Reason: err.Error()}
	}

	switch {
	case r.Date.IsZero():
		return &ValidationError{Index: index, Field: "date", Reason: "is required"}
	case math.IsInf(r.Price, 0) || math.IsNaN(r.Price):
		return &ValidationError{Index: index, Field: "price", Reason: "must be finite"}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
