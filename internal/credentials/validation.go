package credentials

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate names fields by their INI key so messages match the file.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		key, _, _ := strings.Cut(f.Tag.Get("ini"), ",")
		if key == "" || key == "-" {
			return strings.ToLower(f.Name)
		}
		return key
	})
	return v
}

// FieldError is one rejected key of the credential section.
type FieldError struct {
	Key     string
	Message string
}

// InvalidError lists every rejected key of the credential section.
type InvalidError struct {
	Fields []FieldError
}

func (e *InvalidError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid [%s] section", Section)
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("invalid [%s] section: %s", Section, strings.Join(msgs, "; "))
}

// Validate checks the loaded login and reports each bad key.
func (c Credentials) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	invalid := &InvalidError{}
	for _, fe := range fieldErrs {
		invalid.Fields = append(invalid.Fields, FieldError{
			Key:     fe.Field(),
			Message: describe(fe),
		})
	}
	return invalid
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag())
	}
}
