package leads

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var ErrValidation = errors.New("invalid lead")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var sgMobile = regexp.MustCompile(`^[689]\d{7}$`)

// NormalizePhone strips separators and an optional +65 country prefix.
func NormalizePhone(raw string) string {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+65")
	return p
}

func isSGMobile(fl validator.FieldLevel) bool {
	return sgMobile.MatchString(NormalizePhone(fl.Field().String()))
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		if err := v.RegisterValidation("sgmobile", isSGMobile); err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

var fieldMessages = map[string]string{
	"Name":              "Please tell us your name.",
	"Phone":             "Please enter a valid Singapore mobile number.",
	"Reason":            "Please describe the reason for your visit (4 to 500 characters).",
	"PreferredTime":     "Please tell us when you would like to be seen.",
	"ContactPreference": "Please choose WhatsApp, call or either.",
	"Source":            "Source is too long.",
	"IdempotencyKey":    "Request key is too long.",
}

func validateSubmit(req SubmitRequest) error {
	err := structValidator().Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := verrs[0].Field()
		return &ValidationError{Field: field, Message: fieldMessages[field]}
	}
	return &ValidationError{Field: "request", Message: "Please check your details and try again."}
}
