package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/notimo/notimo-api/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================
// Register — POST /v1/auth/register
// ============================================================

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.RegisterResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Register")
	defer span.End()

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" {
		return nil, &domain.ErrValidation{Field: "username", Message: "Nom d'utilisateur et mot de passe requis."}
	}
	if req.Password == "" {
		return nil, &domain.ErrValidation{Field: "password", Message: "Nom d'utilisateur et mot de passe requis."}
	}
	if len(req.Username) > maxUsernameLen {
		return nil, &domain.ErrValidation{Field: "username", Message: "150 caractères maximum."}
	}

	existing, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("check existing user: %w", err)
	}
	if existing != nil {
		return nil, &domain.ErrConflict{Message: "Ce nom d'utilisateur existe déjà."}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{Username: req.Username, Email: req.Email, PasswordHash: string(hash)}
	// CreateUser reports a concurrent registration of the same name as a conflict.
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID))

	// The account exists from here on; a failed welcome step is only logged.
	if s.welcome != nil {
		if err := s.welcome.Welcome(ctx, u.ID); err != nil {
			s.logger.Warn("welcome transaction failed", zap.String("user_id", u.ID), zap.Error(err))
		}
	}

	return &domain.RegisterResponse{Detail: "Utilisateur créé avec succès.", UserID: u.ID}, nil
}
