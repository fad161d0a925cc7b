package handler

import (
	"net/http"

	"github.com/notimo/notimo-api/internal/domain"
	"github.com/notimo/notimo-api/internal/infra/observability"
	"github.com/notimo/notimo-api/internal/port"
	"github.com/notimo/notimo-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services groups everything the router dispatches to.
type Services struct {
	Auth         *service.AuthService
	Categories   *service.CategoryService
	Transactions *service.TransactionService
	Statistics   *service.StatisticsService
	Dashboard    *service.DashboardService
	Photos       *service.PhotoService
}

// RouterConfig carries the HTTP-level settings of the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	// MediaRoot, when set, is served under /media/ for the local blob backend.
	MediaRoot string
	DB        port.HealthChecker
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs Services, cfg RouterConfig, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health & metrics
	r.Get("/healthz", healthzHandler(cfg.DB, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if cfg.MediaRoot != "" {
		r.Handle("/media/*", mediaHandler(cfg.MediaRoot))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/app", appMetricsHandler(metrics))

		// =============================================
		// 1. Authentication
		// =============================================
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authRegisterHandler(svcs.Auth, logger))
			r.Post("/login", authLoginHandler(svcs.Auth, logger))
			r.Post("/refresh", authRefreshHandler(svcs.Auth, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(svcs.Auth, logger))
				r.Post("/logout", authLogoutHandler(svcs.Auth, logger))
				r.Get("/me", authMeHandler())
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svcs.Auth, logger))

			// =============================================
			// 2. Categories
			// =============================================
			r.Route("/categories", func(r chi.Router) {
				r.Get("/", listCategoriesHandler(svcs.Categories, domain.ScopeVisible, "/v1/categories", logger))
				r.Post("/", createCategoryHandler(svcs.Categories, logger))
				r.Get("/predefined", listCategoriesHandler(svcs.Categories, domain.ScopePredefined, "/v1/categories/predefined", logger))
				r.Get("/personal", listCategoriesHandler(svcs.Categories, domain.ScopePersonal, "/v1/categories/personal", logger))
				r.Get("/{id}", getCategoryHandler(svcs.Categories, logger))
				r.Put("/{id}", replaceCategoryHandler(svcs.Categories, logger))
				r.Patch("/{id}", patchCategoryHandler(svcs.Categories, logger))
				r.Delete("/{id}", deleteCategoryHandler(svcs.Categories, logger))
			})

			// =============================================
			// 3. Transactions
			// =============================================
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", listTransactionsHandler(svcs.Transactions, logger))
				r.Post("/", createTransactionHandler(svcs.Transactions, logger))
				r.Get("/statistics", statisticsHandler(svcs.Statistics, logger))
				r.Get("/solde", balanceHandler(svcs.Statistics, logger))
				r.Get("/recent", recentTransactionsHandler(svcs.Transactions, logger))
				r.Get("/dashboard", dashboardHandler(svcs.Dashboard, logger))
				r.Post("/bulk-status", bulkStatusHandler(svcs.Transactions, logger))

				r.Get("/{id}", getTransactionHandler(svcs.Transactions, logger))
				r.Put("/{id}", replaceTransactionHandler(svcs.Transactions, logger))
				r.Patch("/{id}", patchTransactionHandler(svcs.Transactions, logger))
				r.Delete("/{id}", deleteTransactionHandler(svcs.Transactions, logger))

				// 4. Photos
				r.Post("/{id}/photos", uploadPhotoHandler(svcs.Photos, cfg.MaxUploadBytes, logger))
				r.Delete("/{id}/photos/{photoID}", deletePhotoHandler(svcs.Photos, logger))
			})
		})
	})

	return r
}

// mediaHandler serves stored photos. Browsers must not reinterpret them as
// anything other than the stored image type.
func mediaHandler(root string) http.Handler {
	files := http.StripPrefix("/media/", http.FileServer(http.Dir(root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}
