package validator

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"pos/internal/models"

	playground "github.com/go-playground/validator/v10"
)

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrSameCurrency    = errors.New("from and to currency must differ")
)

const maxCurrencyLen = 10

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

var validate = newValidate()

func newValidate() *playground.Validate {
	v := playground.New(playground.WithRequiredStructEnabled())
	_ = v.RegisterValidation("currency", func(fl playground.FieldLevel) bool {
		return IsCurrencyCode(fl.Field().String())
	})
	_ = v.RegisterValidation("username", func(fl playground.FieldLevel) bool {
		return usernameRegex.MatchString(fl.Field().String())
	})
	return v
}

// Struct validates a request DTO against its `validate` tags.
func Struct(value any) error {
	return validate.Struct(value)
}

// FieldErrors flattens validation errors into field -> failed tag.
func FieldErrors(err error) map[string]string {
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func ValidateEmail(email string) error {
	if validate.Var(email, "required,email") != nil {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if validate.Var(username, "username") != nil {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if validate.Var(password, "min=8") != nil {
		return ErrInvalidPassword
	}
	return nil
}

// IsCurrencyCode reports whether code is a usable currency code. Codes are
// not checked against a fixed list.
func IsCurrencyCode(code string) bool {
	if code == "" || len(code) > maxCurrencyLen {
		return false
	}
	return !strings.ContainsFunc(code, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r) || r == '/'
	})
}

// ValidatePair expects an already normalized pair.
func ValidatePair(pair models.CurrencyPair) error {
	if !IsCurrencyCode(pair.From) || !IsCurrencyCode(pair.To) {
		return ErrInvalidCurrency
	}
	if pair.From == pair.To {
		return ErrSameCurrency
	}
	return nil
}
