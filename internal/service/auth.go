package service

import (
	"context"
	"time"

	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var authTracer = otel.Tracer("service/auth")

const (
	bcryptCost     = 12
	maxUsernameLen = 150
)

// Welcomer runs the post-registration step for a new account.
type Welcomer interface {
	Welcome(ctx context.Context, userID string) error
}

// AuthOptions tunes token lifetimes and login throttling.
type AuthOptions struct {
	JWTSecret        string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MaxLoginAttempts int
}

// AuthService orchestrates authentication flows.
type AuthService struct {
	users       port.UserStore
	attempts    port.Cache[int]
	welcome     Welcomer
	jwtSecret   []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	maxAttempts int
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthService creates a new auth service. attempts counts failed logins
// per username; its TTL is the lock window. welcome may be nil.
func NewAuthService(users port.UserStore, attempts port.Cache[int], welcome Welcomer, opts AuthOptions, metrics *observability.Metrics, logger *zap.Logger) *AuthService {
	if opts.MaxLoginAttempts <= 0 {
		opts.MaxLoginAttempts = 5
	}
	return &AuthService{
		users:       users,
		attempts:    attempts,
		welcome:     welcome,
		jwtSecret:   []byte(opts.JWTSecret),
		accessTTL:   opts.AccessTTL,
		refreshTTL:  opts.RefreshTTL,
		maxAttempts: opts.MaxLoginAttempts,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}
