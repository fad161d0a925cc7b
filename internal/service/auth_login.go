package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/notimo/notimo-api/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ============================================================
// Login — POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	req.Username = strings.TrimSpace(req.Username)
	span.SetAttributes(attribute.String("username", req.Username))
	key := strings.ToLower(req.Username)

	n, ok := s.attempts.Get(key)
	if ok {
		s.metrics.IncrCacheHit("login_attempts")
	} else {
		s.metrics.IncrCacheMiss("login_attempts")
	}
	if ok && n >= s.maxAttempts {
		s.metrics.IncrLoginFailure()
		s.logger.Warn("login: username temporarily locked", zap.String("username", req.Username))
		return nil, &domain.ErrUnauthorized{Message: "Trop de tentatives. Réessayez plus tard."}
	}

	u, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		failed := s.attempts.Update(key, func(n int, _ bool) int { return n + 1 })
		s.metrics.IncrLoginFailure()
		s.logger.Warn("login: invalid credentials",
			zap.String("username", req.Username),
			zap.Int("failed_attempts", failed),
		)
		return nil, &domain.ErrUnauthorized{Message: "Identifiants invalides."}
	}

	s.attempts.Delete(key)
	resp, err := s.issueTokens(ctx, u)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", zap.String("user_id", u.ID))
	return resp, nil
}
