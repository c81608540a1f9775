// binding.go registers the intake field rules with gin's validator so request structs
// can declare them in `binding` tags.
package validation

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterBindings adds the "pin", "teamname" and "incidentid" tags to gin's
// default validator. Safe to call more than once.
func RegisterBindings() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected gin validator engine %T", binding.Validator.Engine())
			return
		}
		rules := map[string]validator.Func{
			"pin": func(fl validator.FieldLevel) bool {
				return pinPattern.MatchString(fl.Field().String())
			},
			"teamname": func(fl validator.FieldLevel) bool {
				_, e := NormalizeTeamName(fl.Field().String())
				return e == nil
			},
			"incidentid": func(fl validator.FieldLevel) bool {
				return ValidateIncidentID(fl.Field().String()) == nil
			},
		}
		for tag, fn := range rules {
			if err = v.RegisterValidation(tag, fn); err != nil {
				return
			}
		}
	})
	return err
}

// BindingMessage converts a validator failure into the message shown to callers.
func BindingMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "Invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "pin":
		return "PIN must be exactly 6 digits"
	case "teamname":
		return "Team name contains invalid characters"
	case "incidentid":
		return "Incident ID contains invalid characters"
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s exceeds the maximum of %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s requires at least %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
