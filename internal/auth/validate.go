package auth

import (
	"net/mail"
	"regexp"
	"unicode/utf8"
)

const (
	maxEmailLength    = 254
	minNameLength     = 1
	maxNameLength     = 20
	minPasswordLength = 4
	maxPasswordLength = 20
)

var (
	// Latin letters, hiragana, katakana and CJK ideographs.
	namePattern     = regexp.MustCompile(`^[a-zA-Z\x{3040}-\x{309F}\x{30A0}-\x{30FF}\x{4E00}-\x{9FAF}]+$`)
	passwordPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// ValidationError reports the first invalid registration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// ValidateRegistration checks email, name and password in that order.
func ValidateRegistration(email, name, password string) error {
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	return validatePassword(password)
}

func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return &ValidationError{Field: "email", Message: "enter a valid email address"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "enter a valid email address"}
	}
	return nil
}

func validateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return &ValidationError{Field: "name", Message: "name must be 1-20 characters"}
	}
	if !namePattern.MatchString(name) {
		return &ValidationError{Field: "name", Message: "name may only contain letters or Japanese characters"}
	}
	return nil
}

func validatePassword(password string) error {
	if !passwordPattern.MatchString(password) {
		return &ValidationError{Field: "password", Message: "password may only contain letters and digits"}
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return &ValidationError{Field: "password", Message: "password must be 4-20 characters"}
	}
	return nil
}
