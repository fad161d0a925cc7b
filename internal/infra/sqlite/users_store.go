package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notimo/notimo-api/internal/domain"
)

// UserStore implements port.UserStore.
type UserStore struct {
	db *DB
}

// NewUserStore returns a user store over db.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser inserts u, filling ID and CreatedAt.
func (s *UserStore) CreateUser(ctx context.Context, u *domain.User) error {
	ctx, span := tracer.Start(ctx, "UserStore.CreateUser")
	defer span.End()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = s.db.now()

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		if classify(err) == uniqueConstraint {
			return &domain.ErrConflict{Message: "Ce nom d'utilisateur existe déjà."}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *UserStore) getUser(ctx context.Context, where string, arg any) (*domain.User, error) {
	var (
		u       domain.User
		created string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// GetUserByID returns the user or (nil, nil).
func (s *UserStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByUsername returns the user or (nil, nil).
func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, "username = ?", username)
}

// StoreRefreshToken persists the hash of a refresh token.
func (s *UserStore) StoreRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, expires_at) VALUES (?, ?, ?)`,
		tokenHash, userID, formatTime(expiresAt))
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns an unrevoked token by hash, or (nil, nil).
func (s *UserStore) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var (
		t       domain.RefreshToken
		expires string
	)
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT token_hash, user_id, expires_at FROM refresh_tokens WHERE token_hash = ? AND revoked_at IS NULL`,
		tokenHash).Scan(&t.TokenHash, &t.UserID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	t.ExpiresAt = parseTime(expires)
	return &t, nil
}

// RevokeRefreshToken marks one token revoked.
func (s *UserStore) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		formatTime(s.db.now()), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllRefreshTokens marks every token of userID revoked.
func (s *UserStore) RevokeAllRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`,
		formatTime(s.db.now()), userID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}
