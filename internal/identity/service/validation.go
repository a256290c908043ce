package service

import (
	"regexp"
	"unicode/utf8"

	"authcore/internal/apperr"
	"authcore/internal/otp"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

const passwordRule = "password must be at least 8 characters and include an uppercase letter, a lowercase letter, a number and a symbol"

func validateEmail(email string) error {
	if email == "" {
		return apperr.Validation("email is required")
	}
	if !emailPattern.MatchString(email) {
		return apperr.Validation("must be a valid email")
	}
	return nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	switch {
	case n == 0:
		return apperr.Validation("username is required")
	case n < 3:
		return apperr.Validation("username must be at least 3 characters")
	case n > 30:
		return apperr.Validation("username must be under 30 characters")
	}
	return nil
}

func validateIdentifier(identifier string) error {
	if identifier == "" {
		return apperr.Validation("username or email is required")
	}
	if utf8.RuneCountInString(identifier) < 3 {
		return apperr.Validation("must be at least 3 characters")
	}
	return nil
}

func validateFirstName(name string) error {
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return apperr.Validation("first name is required")
	case n < 2:
		return apperr.Validation("first name must be at least 2 characters")
	case n > 50:
		return apperr.Validation("first name must be under 50 characters")
	}
	return nil
}

func validateLastName(name string) error {
	if utf8.RuneCountInString(name) > 100 {
		return apperr.Validation("last name must be under 100 characters")
	}
	return nil
}

// validatePassword applies the strength rule to new passwords. Login does not apply it so
// accounts created under an older rule can still sign in.
func validatePassword(password string) error {
	if len(password) < 8 {
		return apperr.Validation(passwordRule)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		case r < '0' || (r > '9' && r < 'A') || (r > 'Z' && r < 'a') || r > 'z':
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasNumber || !hasSymbol {
		return apperr.Validation(passwordRule)
	}
	return nil
}

func validateConfirmation(password, confirm string) error {
	if confirm == "" {
		return apperr.Validation("confirm password is required")
	}
	if password != confirm {
		return apperr.Validation("passwords do not match")
	}
	return nil
}

func validateCode(code string) error {
	if !otp.ValidCodeFormat(code) {
		return apperr.Validation("OTP must be 6 digits")
	}
	return nil
}
