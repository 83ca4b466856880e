package middleware

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/crm-api/internal/model"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var customErrorMessages = map[string]string{
	"required": "Field is required",
	"channel":  "Must be one of whatsapp, sms, email",
	"trigger":  "Must be a dotted event name such as message.received",
	"max":      "Value is too long",
	"min":      "Value is too small",
}

var (
	eventName    = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
	registerOnce sync.Once
)

// RegisterValidators installs the custom binding tags on gin's validator. Safe to
// call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		if err := v.RegisterValidation("channel", validateChannel); err != nil {
			panic(err)
		}
		if err := v.RegisterValidation("trigger", validateTrigger); err != nil {
			panic(err)
		}
	})
}

// validateChannel accepts an empty value; the channel then defaults to whatsapp.
func validateChannel(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == "" || model.Channel(s).Valid()
}

func validateTrigger(fl validator.FieldLevel) bool {
	return eventName.MatchString(strings.TrimSpace(fl.Field().String()))
}

// ValidationErrors flattens binding errors into per-field messages. It returns
// nil for errors that did not come from the validator.
func ValidationErrors(err error) []ValidationError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return nil
	}
	out := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		msg := customErrorMessages[e.Tag()]
		if msg == "" {
			msg = e.Error()
		}
		out = append(out, ValidationError{Field: e.Field(), Message: msg})
	}
	return out
}
