// Package model defines the data structures used throughout the application.
package model

import "time"

// OAuthProviderGoogle is the only OAuth provider currently linked to accounts.
const OAuthProviderGoogle = "google"

// User represents one account (an Identity).
//
// Local accounts carry a bcrypt PasswordHash; provider-linked accounts carry
// OAuthProvider + OAuthSubject. An account may have both once a local user
// signs in with Google using the same email. At least one of the two methods
// is always present.
//
// Email is stored lower-cased; the users table also declares it
// COLLATE NOCASE so the UNIQUE index is case-insensitive.
type User struct {
	ID            string    `json:"id"        db:"id"`
	Email         string    `json:"email"     db:"email"`
	FirstName     string    `json:"firstName" db:"first_name"`
	LastName      string    `json:"lastName"  db:"last_name"`
	PasswordHash  string    `json:"-"         db:"password_hash"`  // empty for OAuth-only accounts
	OAuthProvider string    `json:"-"         db:"oauth_provider"` // e.g. "google"
	OAuthSubject  string    `json:"-"         db:"oauth_subject"`  // provider's stable user id ("sub")
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// HasPassword reports whether the account can sign in with local credentials.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasOAuth reports whether the account is linked to an OAuth subject.
func (u *User) HasOAuth() bool {
	return u.OAuthSubject != ""
}

// DisplayName is the name the UI greets the user with.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Email
}
