// Package repository declares the storage contracts the services depend on.
// internal/repository/sqlite is the durable implementation; quota.MemoryStore
// is an in-process QuotaRepository.
package repository

import (
	"context"
	"time"

	"github.com/sakif/code-reviewer/internal/model"
)

// UserRepository is the Credential Store.
//
// Email lookups are case-insensitive. Create fails with apperror.ErrConflict
// when the email is already taken, which is the only uniqueness check:
// callers must not pre-check and then insert.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// LinkOAuth attaches a provider subject to an existing account that has
	// none. Linking an account that is already linked is an ErrConflict.
	LinkOAuth(ctx context.Context, userID, provider, subject string) (*model.User, error)
}

// QuotaRepository stores one fixed-window counter per key.
type QuotaRepository interface {
	// Admit atomically resets the record if its window has elapsed, then
	// increments Count iff Count < limit. It returns the record as it stands
	// after the decision and whether the request was admitted.
	Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*model.QuotaRecord, bool, error)

	// Peek returns the record as Admit would see it, without consuming a slot
	// or writing anything.
	Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*model.QuotaRecord, error)
}
