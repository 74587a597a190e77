package mail

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a message copy does not exist.
	ErrNotFound = errors.New("mail: message not found")
	// ErrForbidden is returned when the actor may not act on a copy.
	ErrForbidden = errors.New("mail: forbidden")
	// ErrUserNotFound is returned when the acting or target user is missing.
	ErrUserNotFound = errors.New("mail: user not found")
)

// FieldError is one failed precondition.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects precondition failures detected before anything
// is written. Nothing has been persisted when a caller receives one.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "mail: " + strings.Join(parts, "; ")
}

func (v *ValidationErrors) add(field, msg string) {
	*v = append(*v, FieldError{Field: field, Message: msg})
}

// orNil keeps a nil ValidationErrors from becoming a non-nil error.
func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
