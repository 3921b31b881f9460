package auth

// Password hashing and the local-account password policy.
//
// bcrypt is deliberately slow and salts every hash, and the salt plus the
// cost are embedded in the output, so a single TEXT column is enough:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version

import (
	"errors"
	"fmt"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// defaultCost is the bcrypt work factor used in production.
	// Tune so one hash takes roughly 250ms on the deployment hardware.
	defaultCost = 12

	// MinPasswordLength and MaxPasswordLength bound local passwords in bytes.
	// bcrypt ignores everything past byte 72, so longer input is rejected
	// rather than silently truncated.
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService hashes and verifies passwords with bcrypt.
//
// The cost is a field so tests can drop it to bcrypt.MinCost.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// newPasswordServiceWithCost is used by the tests in this package.
func newPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with a caller-chosen
// cost, typically bcrypt.MinCost (4), for tests in other packages.
//
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// ValidateStrength applies the local password policy: 8 to 72 bytes with at
// least one letter and one digit. The returned error message is safe to show
// to the user.
func ValidateStrength(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(plaintext) > MaxPasswordLength {
		return fmt.Errorf("password must be %d bytes or fewer", MaxPasswordLength)
	}

	var hasLetter, hasDigit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return errors.New("password must contain at least one letter and one digit")
	}
	return nil
}

// Hash hashes plaintext with bcrypt and returns the self-describing hash
// string to store.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordLength {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordLength)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks plaintext against a stored hash. It returns nil on a match,
// ErrPasswordMismatch on a wrong password and a wrapped error for a corrupt
// hash. The comparison is constant-time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// CompareDummy burns one bcrypt comparison against a throwaway hash of the
// same cost. Login calls it for unknown emails so the response time does not
// reveal whether an account exists.
func (p *PasswordService) CompareDummy(plaintext string) {
	p.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("dummy-password-0"), p.cost)
		if err == nil {
			p.dummyHash = h
		}
	})
	if p.dummyHash == nil {
		return
	}
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
}
