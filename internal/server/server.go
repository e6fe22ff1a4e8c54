// Package server assembles the gate HTTP service from configuration.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/ComUnity/access-gate/internal/client"
	"github.com/ComUnity/access-gate/internal/config"
	"github.com/ComUnity/access-gate/internal/gate"
	"github.com/ComUnity/access-gate/internal/handler"
	"github.com/ComUnity/access-gate/internal/middleware"
	"github.com/ComUnity/access-gate/internal/repository"
	"github.com/ComUnity/access-gate/internal/service"
	"github.com/ComUnity/access-gate/internal/store"
	"github.com/ComUnity/access-gate/internal/telemetry"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

// Version is stamped at build time.
var Version = "dev"

type Server struct {
	cfg     *config.Config
	router  chi.Router
	shipper *telemetry.KafkaAuditShipper
	redis   *client.RedisClient
	db      *sql.DB
}

// New connects the configured backends and builds the router.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}
	if err := s.init(ctx); err != nil {
		s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	var err error
	s.shipper, err = telemetry.NewKafkaAuditShipper(s.cfg.Telemetry.Kafka)
	if err != nil {
		return fmt.Errorf("audit shipper: %w", err)
	}
	s.shipper.Start()

	if s.cfg.Redis.URL != "" {
		s.redis, err = client.NewRedisClient(ctx, client.RedisConfig{
			URL:      s.cfg.Redis.URL,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
	}

	writer, err := s.leadWriter(ctx)
	if err != nil {
		return err
	}

	key, err := csrfKey(s.cfg.Gate.CSRFKey)
	if err != nil {
		return err
	}

	s.router = s.buildRouter(writer, key)
	return nil
}

// leadWriter picks the remote lead service, else Postgres, else none.
func (s *Server) leadWriter(ctx context.Context) (gate.LeadWriter, error) {
	var writer gate.LeadWriter
	if lc := client.NewLeadClient(client.LeadClientConfig{
		URL:     s.cfg.Leads.ServiceURL,
		AnonKey: s.cfg.Leads.AnonKey,
		Timeout: s.cfg.Leads.Timeout,
	}); lc != nil {
		logger.Infof("lead capture: remote service %s", s.cfg.Leads.ServiceURL)
		writer = lc
	} else if s.cfg.App.DatabaseURL != "" {
		db, err := repository.OpenPostgres(ctx, s.cfg.App.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		if err := repository.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		logger.Infof("lead capture: postgres")
		writer = repository.NewPostgresLeadRepository(db)
	} else {
		logger.Warnf("lead capture disabled: no lead service or database configured")
		return nil, nil
	}

	return service.NewLeadRecorder(writer, s.shipper), nil
}

func (s *Server) flagProvider() store.Provider {
	g := s.cfg.Gate
	visitors := store.VisitorCookie{Secure: g.SecureCookies, MaxAge: g.CookieMaxAge}
	switch g.FlagStore {
	case config.FlagStoreRedis:
		return &store.RedisProvider{
			Client:    s.redis.Client,
			KeyPrefix: s.cfg.Redis.KeyPrefix + "flags:",
			TTL:       g.CookieMaxAge,
			Visitors:  visitors,
		}
	case config.FlagStoreMemory:
		return store.NewMemoryProvider(visitors)
	default:
		return store.NewCookieProvider([]byte(g.CookieSecret), g.SecureCookies, g.CookieMaxAge)
	}
}

func (s *Server) buildRouter(leads gate.LeadWriter, csrfKey []byte) chi.Router {
	cfg := s.cfg
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.TLSEnhancer(middleware.TLSConfigFrom(cfg.Security)))
	r.Use(middleware.NewRequestAuditMW(s.shipper).Handler)

	contexts := make([]string, 0, len(cfg.Routes))
	for _, rt := range cfg.Routes {
		contexts = append(contexts, rt.Context)
	}

	gh := handler.NewGateHandler(handler.GateHandlerConfig{
		Flags:    s.flagProvider(),
		Leads:    leads,
		Audit:    s.shipper,
		Visitors: store.VisitorCookie{Secure: cfg.Gate.SecureCookies, MaxAge: cfg.Gate.CookieMaxAge},
		Contexts: contexts,
	})

	protect := csrf.Protect(csrfKey,
		csrf.Secure(cfg.Gate.SecureCookies),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(csrfFailure)),
	)

	var submitMW []func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(middleware.LimiterConfigFrom(cfg.RateLimit, s.redis, cfg.Redis.KeyPrefix))
		submitMW = append(submitMW, rl.Handler)
	}

	r.Group(func(gr chi.Router) {
		gr.Use(markPlaintext, protect)
		gh.RegisterRoutes(gr, submitMW...)
	})

	var checkers []handler.HealthChecker
	if s.redis != nil {
		checkers = append(checkers, &handler.RedisHealthChecker{Client: s.redis})
	}
	if s.db != nil {
		checkers = append(checkers, &handler.DatabaseHealthChecker{Repo: repository.NewPostgresLeadRepository(s.db)})
	}
	r.Method(http.MethodGet, "/healthz", handler.NewHealthHandler(cfg, Version, checkers...))

	for _, rt := range cfg.Routes {
		content, err := contentHandler(rt)
		if err != nil {
			// Validate already checked routes; a bad upstream URL still lands here.
			logger.Errorf("route %s skipped: %v", rt.Path, err)
			continue
		}
		h := csrfOnSafeMethods(protect)(gh.Middleware(rt.Context, content))
		prefix := strings.TrimSuffix(rt.Path, "/")
		if prefix != "" {
			r.Handle(prefix, h)
		}
		r.Handle(prefix+"/*", h)
		logger.Infof("gated route %s -> context=%s", rt.Path, rt.Context)
	}
	return r
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.App.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("access gate listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Infof("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown error: %v", err)
	}
	s.Close(shutdownCtx)
	return nil
}

func (s *Server) Close(ctx context.Context) {
	if s.shipper != nil {
		s.shipper.Stop(ctx)
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

func contentHandler(rt config.RouteConfig) (http.Handler, error) {
	if rt.Upstream != "" {
		u, err := url.Parse(rt.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid upstream %q", rt.Upstream)
		}
		return &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(u)
				pr.SetXForwarded()
			},
		}, nil
	}
	prefix := strings.TrimSuffix(rt.Path, "/")
	return http.StripPrefix(prefix, http.FileServer(http.Dir(rt.ContentDir))), nil
}

func csrfKey(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	logger.Warnf("gate.csrf_key not set; using an ephemeral key, open forms break on restart")
	return key, nil
}

// csrfOnSafeMethods lets gated GETs mint a token for the overlay without
// subjecting the proxied application's own writes to the gate's CSRF check.
func csrfOnSafeMethods(protect func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := markPlaintext(protect(next))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				protected.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// markPlaintext tells gorilla/csrf which requests arrived over plain HTTP so
// it skips the HTTPS-only referer check for them.
func markPlaintext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}

func csrfFailure(w http.ResponseWriter, r *http.Request) {
	logger.Warnf("csrf check failed path=%s: %v", r.URL.Path, csrf.FailureReason(r))
	http.Error(w, "Forbidden - reload the page and try again", http.StatusForbidden)
}
