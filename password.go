package authcore

import (
	"fmt"
	"regexp"
	"strings"
)

// PasswordHasher hashes and verifies passwords. Verify returns false, nil
// on a mismatch and an error only when the stored hash is unusable.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return NewValidationError(CodeInvalidEmail, "invalid email address", "email")
	}
	return nil
}

// checkPassword enforces the configured length policy before any hashing.
func (a *Auth) checkPassword(password, field string) error {
	min, max := a.opts.EmailAndPassword.MinPasswordLength, a.opts.EmailAndPassword.MaxPasswordLength
	if len(password) < min {
		return NewValidationError(CodePasswordTooShort, fmt.Sprintf("password must be at least %d characters", min), field)
	}
	if len(password) > max {
		return NewValidationError(CodePasswordTooLong, fmt.Sprintf("password must be at most %d characters", max), field)
	}
	return nil
}

func (a *Auth) hashPassword(password string) (string, error) {
	hash, err := a.hasher.Hash(password)
	if err != nil {
		return "", internalError("failed to hash password", err)
	}
	return hash, nil
}

// verifyPassword reports a malformed stored hash as an internal error.
func (a *Auth) verifyPassword(password, hash string) (bool, error) {
	ok, err := a.hasher.Verify(password, hash)
	if err != nil {
		a.logger.Error("password verification failed", "error", err)
		return false, internalError("failed to verify password", err)
	}
	return ok, nil
}
