// Package server is the composition root: it builds every dependency from
// config.Config, mounts the routes and runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  → database (sqlite or postgres)  → repositories
//	  → notify.Dispatcher (SMTP / SNS, unconfigured or dev log otherwise)
//	  → ratelimit (Redis, else in-process)
//	  → auth.TokenService, auth.PasswordService, auth.GoogleProvider
//	  → service.AuthService, service.UserService
//	  → handlers → chi routes
//
// Nothing below this package reads the environment or picks an
// implementation on its own.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/accounts/internal/auth"
	"github.com/sakif/accounts/internal/config"
	"github.com/sakif/accounts/internal/handler"
	"github.com/sakif/accounts/internal/middleware"
	"github.com/sakif/accounts/internal/notify"
	"github.com/sakif/accounts/internal/ratelimit"
	"github.com/sakif/accounts/internal/repository"
	"github.com/sakif/accounts/internal/repository/postgres"
	sqliteRepo "github.com/sakif/accounts/internal/repository/sqlite"
	"github.com/sakif/accounts/internal/service"
)

// database is what the server needs from either backend.
type database struct {
	users  repository.UserRepository
	otps   repository.OTPRepository
	pinger handler.Pinger
	closer io.Closer
}

// Server owns the router and everything that must be closed on shutdown.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger

	db      database
	closers []io.Closer

	notifier  service.Notifier
	limits    *service.Limits
	passwords *auth.PasswordService
	google    handler.GoogleExchanger

	authService *service.AuthService
}

// Option replaces a dependency New would otherwise build from config.
type Option func(*Server)

// WithNotifier replaces the OTP delivery channels.
func WithNotifier(n service.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// WithLimits replaces the OTP send and verify limiters.
func WithLimits(l service.Limits) Option {
	return func(s *Server) { s.limits = &l }
}

// WithPasswords replaces the password hasher, e.g. with a low bcrypt cost.
func WithPasswords(p *auth.PasswordService) Option {
	return func(s *Server) { s.passwords = p }
}

// WithGoogle replaces the Google provider and mounts the Google routes
// even when no client credentials are configured.
func WithGoogle(g handler.GoogleExchanger) Option {
	return func(s *Server) { s.google = g }
}

// New builds the server. On error every resource opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.build(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.config

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	s.db = db
	s.closers = append(s.closers, db.closer)

	if s.notifier == nil {
		n, err := newNotifier(ctx, cfg, s.logger)
		if err != nil {
			return err
		}
		s.notifier = n
	}

	if s.limits == nil {
		l, err := s.newLimits(ctx)
		if err != nil {
			return err
		}
		s.limits = &l
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	if s.passwords == nil {
		s.passwords = auth.NewPasswordService()
	}

	if s.google == nil && cfg.Google.Enabled() {
		s.google = auth.NewGoogleProvider(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.CallbackURL, cfg.UpstreamTimeout)
	}

	s.authService = service.NewAuthService(
		db.users, db.otps, tokens, s.passwords, s.notifier, *s.limits,
		service.AuthConfig{
			OTPTTL:             cfg.OTPTTL,
			RegistrationWindow: cfg.RegistrationWindow,
			UpstreamTimeout:    cfg.UpstreamTimeout,
		},
		s.logger,
	)
	userService := service.NewUserService(db.users, s.logger)

	s.setupRoutes(tokens, userService)
	return nil
}

func openDatabase(ctx context.Context, cfg config.Config) (database, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return database{}, fmt.Errorf("opening database: %w", err)
		}
		return database{users: db.Users(), otps: db.OTPs(), pinger: db, closer: db}, nil

	case config.DriverSQLite:
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return database{}, fmt.Errorf("opening database: %w", err)
		}
		return database{users: db.Users(), otps: db.OTPs(), pinger: db, closer: db}, nil
	}
	return database{}, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
}

// newNotifier picks a real channel per identifier kind when it is
// configured. Otherwise sends fail, unless OTP_DEV_LOG asks for the code to
// be logged.
func newNotifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	fallback := func(channel, missing string) notify.Sender {
		if cfg.OTPDevLog {
			logger.Warn(missing+" not configured, OTP_DEV_LOG writes "+channel+" codes to the log")
			return notify.NewLogSender(logger, channel)
		}
		logger.Warn(missing + " not configured, " + channel + " codes cannot be sent")
		return notify.NewUnconfigured(channel)
	}

	var email, mobile notify.Sender

	if cfg.SMTP.Enabled() {
		email = notify.NewEmailSender(cfg.SMTP)
	} else {
		email = fallback("email", "SMTP")
	}

	if cfg.AWS.Enabled() {
		sms, err := notify.NewSNSSender(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("creating SMS sender: %w", err)
		}
		mobile = sms
	} else {
		mobile = fallback("sms", "AWS_REGION")
	}

	return notify.NewDispatcher(email, mobile), nil
}

// newLimits shares one Redis connection between the send and verify limits
// when REDIS_URL is set and keeps per-process buckets otherwise. A limit of
// 0 disables that check.
func (s *Server) newLimits(ctx context.Context) (service.Limits, error) {
	cfg := s.config
	var limits service.Limits

	if cfg.RedisURL != "" && (cfg.OTPSendLimit > 0 || cfg.OTPVerifyLimit > 0) {
		l, err := ratelimit.NewRedis(ctx, cfg.RedisURL, cfg.OTPSendLimit, cfg.OTPSendWindow)
		if err != nil {
			return limits, fmt.Errorf("creating rate limiter: %w", err)
		}
		s.closers = append(s.closers, l)
		if cfg.OTPSendLimit > 0 {
			limits.Send = l
		}
		if cfg.OTPVerifyLimit > 0 {
			limits.Verify = l.WithLimit(cfg.OTPVerifyLimit)
		}
		return limits, nil
	}

	if cfg.RedisURL == "" {
		s.logger.Info("REDIS_URL not set, OTP limits are kept per process")
	}
	if cfg.OTPSendLimit > 0 {
		limits.Send = ratelimit.NewMemory(cfg.OTPSendLimit, cfg.OTPSendWindow)
	}
	if cfg.OTPVerifyLimit > 0 {
		limits.Verify = ratelimit.NewMemory(cfg.OTPVerifyLimit, cfg.OTPSendWindow)
	}
	return limits, nil
}

// setupRoutes mounts middleware and routes.
//
// MIDDLEWARE ORDER:
// RequestID and RealIP run first so the logger sees both. Recoverer sits
// inside the logger so a panic is logged as a 500. CORS answers preflight
// requests before they reach any handler.
func (s *Server) setupRoutes(tokens *auth.TokenService, users *service.UserService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.config.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.NotFound(handler.HandleNotFound)

	healthHandler := handler.NewHealthHandler(s.db.pinger, s.logger)
	authHandler := handler.NewAuthHandler(s.authService, s.logger)
	userHandler := handler.NewUserHandler(users, s.logger)
	requireAuth := auth.RequireAuth(tokens)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.HandleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.HandleLogin)
			r.Post("/send-otp", authHandler.HandleSendOTP)
			r.Post("/verify-otp", authHandler.HandleVerifyOTP)
			r.Post("/register/send-otp", authHandler.HandleRegisterSendOTP)
			r.Post("/register/verify-otp", authHandler.HandleRegisterVerifyOTP)
			r.Post("/register", authHandler.HandleRegister)
			r.With(requireAuth).Post("/logout", authHandler.HandleLogout)

			if s.google != nil {
				googleHandler := handler.NewGoogleHandler(s.google, s.authService, s.config.FrontendURL, s.logger)
				r.Get("/google", googleHandler.HandleLogin)
				r.Get("/google/callback", googleHandler.HandleCallback)
			}
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", userHandler.HandleList)
			r.Get("/me", userHandler.HandleMe)
			r.Get("/{id}", userHandler.HandleGetByID)
		})
	})
}

// Handler exposes the router, for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and the limiter connection.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests for up
// to 30 seconds and closes every resource.
func (s *Server) Start() error {
	defer s.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if s.config.OTPPurgeInterval > 0 {
		go s.authService.RunOTPPurger(ctx, s.config.OTPPurgeInterval)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBDriver),
			slog.Bool("google", s.google != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
