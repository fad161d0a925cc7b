// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/notimo/notimo-api/internal/domain"
)

// ErrNumberTaken is returned by TransactionStore.CreateTransaction when the
// per-user number collided with a concurrent write. Callers retry.
var ErrNumberTaken = errors.New("transaction number already taken")

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	// Update replaces the entry with fn(current, found) atomically and
	// restarts its TTL.
	Update(key string, fn func(current T, found bool) T) T
	Delete(key string)
}

// CategoryStore persists categories. Lookups return (nil, nil) when absent.
type CategoryStore interface {
	ListCategories(ctx context.Context, userID string, filter domain.CategoryFilter) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	FindPredefined(ctx context.Context, name string, typ domain.CategoryType) (*domain.Category, error)

	// CreateCategory and UpdateCategory return a *domain.ErrValidation on
	// field "nom" when (name, type, owner) is taken.
	CreateCategory(ctx context.Context, c *domain.Category) error
	UpdateCategory(ctx context.Context, c *domain.Category) error
	// DeleteCategory returns *domain.ErrConflict when a transaction still
	// references the category, whatever the pre-check said.
	DeleteCategory(ctx context.Context, id string) error

	CountCategoryReferences(ctx context.Context, id string) (int, error)
	// CountTransactionsByCategory counts userID's transactions per category id.
	CountTransactionsByCategory(ctx context.Context, userID string) (map[string]int, error)

	// SeedPredefined inserts missing catalogue entries and returns how many were added.
	SeedPredefined(ctx context.Context, catalogue []domain.PredefinedCategory) (int, error)
}

// TransactionStore persists transactions with their line items and photos.
// Every method is scoped to the owning user; a foreign id behaves as absent.
type TransactionStore interface {
	// CreateTransaction writes the transaction and all its line items in one
	// unit and assigns t.Number.
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error)
	// UpdateTransaction writes the header; when replaceLineItems is set the
	// stored line items are swapped for t.LineItems in the same unit.
	UpdateTransaction(ctx context.Context, t *domain.Transaction, replaceLineItems bool) error
	// DeleteTransaction removes the transaction and returns the blob refs of
	// its cascaded photos.
	DeleteTransaction(ctx context.Context, userID, id string) ([]string, error)
	// ListTransactions returns one page and the total match count.
	ListTransactions(ctx context.Context, userID string, filter domain.TransactionFilter) ([]domain.Transaction, int, error)
	// UpdateStatuses moves the caller's transactions among ids to next when
	// allowed(current) holds, in one unit, and returns how many changed.
	UpdateStatuses(ctx context.Context, userID string, ids []string, next domain.Status, allowed func(domain.Status) bool) (int, error)

	AddPhoto(ctx context.Context, userID string, p *domain.Photo) error
	// DeletePhoto returns the blob ref of the removed photo.
	DeletePhoto(ctx context.Context, userID, transactionID, photoID string) (string, error)
}

// UserStore persists accounts and refresh tokens.
type UserStore interface {
	// CreateUser returns *domain.ErrConflict when the username is taken.
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
}

// BlobStore keeps receipt images. The core stores only the returned ref.
type BlobStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Delete(ctx context.Context, ref string) error
	URL(ref string) string
}

// HealthChecker reports the reachability of a dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
