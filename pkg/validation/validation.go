// Package validation checks user input. Validators never return errors;
// they return a Result the caller shows next to the input.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/kuppel/kuppel.go/pkg/models"
)

type Result struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

var OK = Result{IsValid: true}

func Invalid(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// First returns the first invalid result, or OK.
func First(results ...Result) Result {
	for _, r := range results {
		if !r.IsValid {
			return r
		}
	}
	return OK
}

func Required(field, value string) Result {
	if strings.TrimSpace(value) == "" {
		return Invalid("%s is required", field)
	}
	return OK
}

func MaxLength(field, value string, n int) Result {
	if utf8.RuneCountInString(value) > n {
		return Invalid("%s must be at most %d characters", field, n)
	}
	return OK
}

func Email(value string) Result {
	if r := Required("email", value); !r.IsValid {
		return r
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return Invalid("email is not valid")
	}
	return OK
}

func Password(value string) Result {
	if value == "" {
		return Invalid("password is required")
	}
	if utf8.RuneCountInString(value) < 6 {
		return Invalid("password must be at least 6 characters")
	}
	return OK
}

func PositiveAmount(field string, m models.Money) Result {
	if m <= 0 {
		return Invalid("%s must be greater than zero", field)
	}
	return OK
}

func NonNegativeAmount(field string, m models.Money) Result {
	if m < 0 {
		return Invalid("%s cannot be negative", field)
	}
	return OK
}

// OneOf accepts value if it is one of allowed.
func OneOf[T comparable](field string, value T, allowed ...T) Result {
	for _, a := range allowed {
		if value == a {
			return OK
		}
	}
	return Invalid("%s has an unsupported value %v", field, value)
}

// Error carries an invalid Result through an error return, for mutations
// that validate their input before writing.
type Error struct {
	Result Result
}

func (e *Error) Error() string {
	return "validation: " + e.Result.Error
}

// Err returns nil for a valid result and an *Error otherwise.
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &Error{Result: r}
}
