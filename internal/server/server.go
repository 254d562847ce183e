package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/shortlink/internal/config"
	"github.com/dukerupert/shortlink/internal/handler"
	"github.com/dukerupert/shortlink/internal/middleware"
	"github.com/dukerupert/shortlink/internal/otp"
	"github.com/dukerupert/shortlink/internal/service"
	"github.com/dukerupert/shortlink/internal/slug"
	"github.com/dukerupert/shortlink/internal/store"
	"github.com/dukerupert/shortlink/internal/token"
	ws "github.com/dukerupert/shortlink/internal/websocket"
)

const (
	authRateLimit  = 10
	authRatePeriod = time.Minute
)

// Deps are the outside resources the server is built on.
type Deps struct {
	DB         *sql.DB
	Challenges otp.Store
	Mailer     service.Mailer
	// Fetcher loads pages for title-based codes. Nil disables titles.
	Fetcher slug.Fetcher
}

type Server struct {
	cfg         config.Config
	hub         *ws.Hub
	gate        *middleware.Gate
	rateLimiter *middleware.RateLimiter
	accountH    *handler.AccountHandler
	linkH       *handler.LinkHandler
	redirectH   *handler.RedirectHandler
	logger      *slog.Logger
}

func New(cfg config.Config, deps Deps, logger *slog.Logger, opts ...service.AccountOption) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	accountStore := store.NewAccountStore(deps.DB)
	linkStore := store.NewLinkStore(deps.DB)
	tokens := token.NewAuthority(cfg.JWTSecret)

	opts = append([]service.AccountOption{service.WithMaxAccounts(cfg.MaxAccounts)}, opts...)
	accounts := service.NewAccountService(
		accountStore, linkStore, deps.Challenges, tokens, deps.Mailer,
		logger.With("component", "accounts"), opts...,
	)

	slugLogger := logger.With("component", "slug")
	links := service.NewLinkService(
		linkStore,
		slug.NewGenerator(deps.Fetcher, cfg.FetchTimeout, slugLogger),
		slug.NewAllocator(slug.DefaultMaxProbes),
		hub,
		cfg.MaxLinks,
		logger.With("component", "links"),
	)

	httpLogger := logger.With("component", "http")
	return &Server{
		cfg:         cfg,
		hub:         hub,
		gate:        middleware.NewGate(tokens, accountStore, logger.With("component", "auth")),
		rateLimiter: middleware.NewRateLimiter(authRateLimit, authRatePeriod).TrustProxy(cfg.TrustProxy),
		accountH:    handler.NewAccountHandler(accounts, httpLogger),
		linkH:       handler.NewLinkHandler(links, cfg.BaseURL, httpLogger),
		redirectH:   handler.NewRedirectHandler(links, cfg.FrontendURL, httpLogger),
		logger:      logger,
	}
}

// RateLimiter returns the limiter guarding the auth endpoints.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the live event hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /{$}", s.redirectH.Root)
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /{code}", s.redirectH.Resolve)

	mux.Handle("POST /auth/register", s.rateLimiter.Limit(http.HandlerFunc(s.accountH.Register)))
	mux.Handle("POST /auth/verify-otp", s.rateLimiter.Limit(http.HandlerFunc(s.accountH.VerifyOTP)))
	mux.Handle("POST /auth/login", s.rateLimiter.Limit(http.HandlerFunc(s.accountH.Login)))

	// Protected routes
	protect := func(h http.HandlerFunc) http.Handler { return s.gate.RequireAuth(h) }

	mux.Handle("GET /auth/me", protect(s.accountH.Me))
	mux.Handle("PUT /auth/me", protect(s.accountH.UpdateMe))
	mux.Handle("DELETE /auth/me", protect(s.accountH.DeleteMe))

	mux.Handle("POST /shortener/new", protect(s.linkH.Create))
	mux.Handle("GET /shortener/all", protect(s.linkH.List))
	mux.Handle("GET /shortener/archived", protect(s.linkH.ListArchived))
	mux.Handle("DELETE /shortener/all", protect(s.linkH.DeleteAll))
	mux.Handle("DELETE /shortener/archived", protect(s.linkH.DeleteArchived))
	mux.Handle("GET /shortener/events", protect(ws.HandleEvents(s.hub, s.cfg.CORSAllowlist, s.logger.With("component", "websocket"))))
	mux.Handle("GET /shortener/{id}", protect(s.linkH.Get))
	mux.Handle("PUT /shortener/{id}", protect(s.linkH.Update))
	mux.Handle("DELETE /shortener/{id}", protect(s.linkH.Delete))
	mux.Handle("PATCH /shortener/{id}/archive", protect(s.linkH.Archive))

	var h http.Handler = mux
	h = middleware.CORS(s.cfg.CORSAllowlist)(h)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}
