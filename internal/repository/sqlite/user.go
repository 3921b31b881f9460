package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/model"
	"github.com/sakif/code-reviewer/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

// UserStore persists accounts in the users table.
type UserStore struct {
	conn *sql.DB
}

const userColumns = `id, email, first_name, last_name, password_hash,
	oauth_provider, oauth_subject, created_at, updated_at`

// Create inserts user, assigning its ID and timestamps in place.
//
// The UNIQUE index on email is the authority on duplicates; a violation is
// reported as apperror.ErrConflict. This keeps two concurrent registrations
// for the same address from both succeeding.
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	if user.PasswordHash == "" && user.OAuthSubject == "" {
		return apperror.ValidationFailed("password", "account needs a password or a linked provider")
	}

	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.OAuthProvider,
		user.OAuthSubject,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", "email already registered")
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.scanOne(s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email, ignoring case.
// Returns apperror.ErrNotFound if no such account exists.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.scanOne(s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// LinkOAuth records provider/subject on an account that has no linkage yet.
//
// The WHERE clause makes the link a compare-and-set: if another request
// linked the account first, no row matches and the call reports a conflict
// unless it was linked to the very same subject.
func (s *UserStore) LinkOAuth(ctx context.Context, userID, provider, subject string) (*model.User, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET oauth_provider = ?, oauth_subject = ?, updated_at = ?
		 WHERE id = ? AND oauth_subject = ''`,
		provider, subject, time.Now().UTC(), userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("user", "provider account already linked to another user")
		}
		return nil, fmt.Errorf("sqlite: linking user %s: %w", userID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: linking user %s: %w", userID, err)
	}

	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n == 0 && (u.OAuthProvider != provider || u.OAuthSubject != subject) {
		return nil, apperror.Conflict("user", "account is linked to a different provider identity")
	}
	return u, nil
}

func (s *UserStore) scanOne(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.OAuthProvider,
		&u.OAuthSubject,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// isUniqueViolation reports whether err is SQLite's UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
