// Package validate wraps go-playground/validator with the field rules the
// API shares and maps failures to user-facing messages.
package validate

import (
	"errors"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"secscan.app/internal/auth"
)

// ErrInvalid matches every *Error with errors.Is.
var ErrInvalid = errors.New("validation failed")

// Error is a validation failure on one field. Message is safe to show users.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool { return target == ErrInvalid }

// Messages maps JSON field names to the message returned when that field fails.
type Messages map[string]string

var couponPattern = regexp.MustCompile(`^[a-z0-9]{3,20}$`)

// Validator is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic("validate: register " + tag + ": " + err.Error())
		}
	}
	mustRegister("digits_len", digitsLen)
	mustRegister("digits_min", digitsMin)
	mustRegister("digits_max", digitsMax)
	mustRegister("coupon", func(fl validator.FieldLevel) bool {
		return couponPattern.MatchString(NormalizeCoupon(fl.Field().String()))
	})
	mustRegister("strong_password", func(fl validator.FieldLevel) bool {
		return auth.StrongPassword(fl.Field().String())
	})
	mustRegister("web_url", func(fl validator.FieldLevel) bool {
		return WebURL(fl.Field().String())
	})
	return &Validator{validate: v}
}

// Struct validates s and returns the first failing field as *Error.
func (v *Validator) Struct(s any, msgs Messages) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	msg, ok := msgs[fe.Field()]
	if !ok {
		msg = "Campo inválido: " + fe.Field()
	}
	return &Error{Field: fe.Field(), Message: msg}
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeCoupon trims and lower-cases a coupon code.
func NormalizeCoupon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// WebURL reports whether s is an absolute http or https URL.
func WebURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func digitCount(fl validator.FieldLevel) (int, int, bool) {
	n, err := strconv.Atoi(fl.Param())
	if err != nil {
		return 0, 0, false
	}
	return len(Digits(fl.Field().String())), n, true
}

func digitsLen(fl validator.FieldLevel) bool {
	got, want, ok := digitCount(fl)
	return ok && got == want
}

func digitsMin(fl validator.FieldLevel) bool {
	got, want, ok := digitCount(fl)
	return ok && got >= want
}

func digitsMax(fl validator.FieldLevel) bool {
	got, want, ok := digitCount(fl)
	return ok && got <= want
}
