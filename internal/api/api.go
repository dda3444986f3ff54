package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/waymark-app/waymark/internal/config"
	"github.com/waymark-app/waymark/internal/credential"
	"github.com/waymark-app/waymark/internal/ledger"
	"github.com/waymark-app/waymark/internal/session"
	"github.com/waymark-app/waymark/web"
)

// API holds the dependencies needed by the auth handlers.
type API struct {
	cfg      *config.Config
	store    session.Store
	ledger   *ledger.Ledger
	verifier *credential.Verifier
	logger   *slog.Logger
	audit    *auditLogger
	alertFn  AlertFunc

	// envDir is where the rotated password verifier is persisted.
	envDir    string
	loginPage []byte
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and errors.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAlertFunc sets the callback invoked on anomaly detection, such
// as a login failure spike across many remotes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithEnvDir sets the directory the rotated password verifier is
// written to. Defaults to the working directory.
func WithEnvDir(dir string) Option {
	return func(a *API) {
		a.envDir = dir
	}
}

// New creates a new API instance.
func New(cfg *config.Config, store session.Store, lgr *ledger.Ledger, verifier *credential.Verifier, opts ...Option) *API {
	a := &API{
		cfg:       cfg,
		store:     store,
		ledger:    lgr,
		verifier:  verifier,
		envDir:    ".",
		loginPage: web.LoginPage(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.alertFn == nil {
		logger := a.logger
		a.alertFn = func(ev AlertEvent) {
			logger.Warn("security alert",
				slog.String("type", string(ev.Type)),
				slog.String("message", ev.Message),
				slog.Int("count", ev.Count),
				slog.Int("threshold", ev.Threshold))
		}
	}
	a.audit = newAuditLogger(a.logger)
	a.audit.metrics = newMetricsCollector(a.alertFn)
	return a
}

// Router returns a chi.Router with all routes mounted. The recoverer
// runs outermost so even a panic still carries the security headers
// stamped by the middleware below it.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(a.Recoverer)
	r.Use(a.SecurityHeaders)
	r.Use(a.Gate)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Handle("/static/*", http.StripPrefix("/static/", web.Static()))

	r.Get("/auth/login", a.LoginPage)
	r.Post("/auth/login", a.Login)
	r.Post("/auth/logout", a.protected(a.Logout))
	r.Get("/auth/status", a.Status)
	r.Get("/auth/csrf-token", a.CSRFToken)
	r.Post("/auth/change-password", a.protected(a.ChangePassword))

	return r
}
