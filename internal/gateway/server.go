package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/gateway/config"
	"github.com/wudi/gateway/internal/listener"
	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/middleware/auth"
	"github.com/wudi/gateway/internal/middleware/ratelimit"
	"github.com/wudi/gateway/internal/middleware/tokenrevoke"
	"github.com/wudi/gateway/internal/oidc"
	"github.com/wudi/gateway/internal/proxy"
	"github.com/wudi/gateway/internal/registry"
	"github.com/wudi/gateway/internal/registry/memory"
	"github.com/wudi/gateway/internal/registry/redisregistry"
	"github.com/wudi/gateway/internal/router"
	"github.com/wudi/gateway/internal/signingkey"
	"github.com/wudi/gateway/internal/translation"
	"github.com/wudi/gateway/internal/websocket"
)

// Server is the top-level gateway process: every component wired together,
// bound to a listener.Manager, with a graceful Shutdown.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	logCloser func() error

	registry    *registry.Service
	router      *router.Router
	signingKeys *signingkey.Registry
	revocation  *tokenrevoke.TokenChecker
	translation *translation.Service
	oidc        *oidc.Validator
	lockout     *ratelimit.LockoutTracker
	identity    *IdentityResolver
	sessions    SessionRepository
	proxy       *proxy.Proxy
	wsProxy     *websocket.Proxy
	admin       *AdminPlane

	listeners *listener.Manager
	redis     *redis.Client
}

// NewServer builds a fully wired Server from cfg without starting anything.
func NewServer(cfg *config.Config) (*Server, error) {
	zapLogger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: logger init: %w", err)
	}
	logging.SetGlobal(zapLogger)

	s := &Server{
		cfg:    cfg,
		logger: zapLogger,
	}
	if closer != nil {
		s.logCloser = closer.Close
	}

	var redisClient *redis.Client
	if cfg.Storage.Mode == "redis" || cfg.Registry.Mode == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	s.redis = redisClient

	if err := s.buildRegistry(redisClient); err != nil {
		return nil, err
	}
	s.router = router.New()
	s.seedRoutes()

	s.signingKeys, err = signingkey.New(cfg.KeyRotation, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("gateway: signing key registry: %w", err)
	}

	s.revocation, err = tokenrevoke.New(cfg.Revocation, redisClient, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("gateway: revocation engine: %w", err)
	}

	if err := s.buildTranslation(zapLogger); err != nil {
		return nil, err
	}

	s.oidc, err = oidc.New(cfg.JWKS, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("gateway: oidc validator: %w", err)
	}

	s.lockout = ratelimit.NewLockoutTracker(ratelimit.LockoutConfig{
		Window:            cfg.AuthLimiter.Window,
		MaxFailedAttempts: cfg.AuthLimiter.MaxFailures,
		BaseLockout:       cfg.AuthLimiter.BaseLockout,
	})

	s.sessions = NewMemorySessionRepository(time.Minute)

	apiKeyAuth := auth.NewAPIKeyAuth(cfg.APIKey, auth.NewMemoryKeyStore(time.Minute))
	roles := NewMemoryRoleRepository()

	s.identity = NewIdentityResolver(apiKeyAuth, s.oidc, s.translation, roles, s.revocation, s.sessions, cfg.Session.CookieName, zapLogger)

	s.proxy = proxy.New(cfg.Proxy)
	s.wsProxy = websocket.NewProxy(cfg.WebSocket)

	s.admin = NewAdminPlane(s.registry, s.router, s.signingKeys, s.revocation, s.translation, zapLogger)

	s.listeners = listener.NewManager()
	if err := s.buildListener(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Server) buildRegistry(redisClient *redis.Client) error {
	var repo registry.Repository
	if s.cfg.Registry.Mode == "redis" && redisClient != nil {
		repo = redisregistry.New(redisClient, "gw:registry:")
	} else {
		repo = memory.New()
	}
	svc, err := registry.NewService(repo, s.cfg.Registry.CacheSize)
	if err != nil {
		return fmt.Errorf("gateway: service registry: %w", err)
	}
	s.registry = svc
	return nil
}

// seedRoutes populates the router from every service already present in the
// registry at boot (e.g. loaded from a Redis-backed repository).
func (s *Server) seedRoutes() {
	all, err := s.registry.GetAllServices(context.Background())
	if err != nil {
		s.logger.Warn("seed routes: list services", zap.Error(err))
		return
	}
	for _, reg := range all {
		for i, ep := range reg.Endpoints {
			routeID := fmt.Sprintf("%s#%d", reg.ServiceID, i)
			s.router.AddRoute(routeID, reg.ServiceID, ep)
		}
	}
}

func (s *Server) buildTranslation(logger *zap.Logger) error {
	var provider translation.Provider
	switch {
	case s.cfg.Translation.Remote != nil:
		provider = translation.NewRemoteProvider(*s.cfg.Translation.Remote)
	case s.cfg.Translation.ConfigFile != nil:
		p, err := translation.NewConfigProvider(s.cfg.Translation.ConfigFile.Path, logger)
		if err != nil {
			return fmt.Errorf("gateway: translation config provider: %w", err)
		}
		provider = p
	default:
		provider = translation.NewDefaultProvider("roles", nil)
	}

	svc, err := translation.NewService(provider, s.cfg.Translation.CacheSize)
	if err != nil {
		return fmt.Errorf("gateway: translation service: %w", err)
	}
	s.translation = svc
	return nil
}

func (s *Server) buildListener() error {
	pipeline := NewPipeline(s.cfg.Server.ReservedPaths, s.registry, s.router, s.lockout, s.identity, s.proxy, s.logger)
	handler := NewHandler(pipeline)

	mux := http.NewServeMux()
	mux.Handle("/admin/", s.admin)
	mux.Handle("/", s.routeOrUpgrade(handler))

	httpListener, err := listener.NewHTTPListener(listener.HTTPListenerConfig{
		ID:          "public",
		Address:     s.cfg.Server.ListenAddr,
		Handler:     mux,
		TLS:         s.cfg.Server.TLS,
		EnableHTTP3: s.cfg.Proxy.EnableHTTP3,
	})
	if err != nil {
		return fmt.Errorf("gateway: http listener: %w", err)
	}
	return s.listeners.Add(httpListener)
}

// routeOrUpgrade dispatches WebSocket upgrade requests to the WebSocket Path
// (§4.12) instead of the ordinary request pipeline, once the target service
// and route have been resolved the same way an HTTP request would be.
func (s *Server) routeOrUpgrade(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsUpgradeRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		serviceID, remainder := firstSegment(r.URL.Path)
		if isReserved(serviceID, s.cfg.Server.ReservedPaths) {
			http.NotFound(w, r)
			return
		}
		reg, ok := s.registry.GetService(r.Context(), serviceID)
		if !ok {
			http.NotFound(w, r)
			return
		}

		outcome := s.identity.Resolve(r)
		if !outcome.Ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		subReq := r.Clone(r.Context())
		subReq.URL.Path = remainder
		match := s.router.Match(subReq)
		if match == nil || match.Route.ServiceID != serviceID {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if allowed, _ := authorize(match.Route, reg, outcome.Identity, r.Method); !allowed {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		s.wsProxy.ServeHTTP(w, subReq, reg.BaseURL)
	})
}

// Run starts every listener and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.signingKeys.StartScheduler()
	if err := s.listeners.StartAll(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Shutdown drains in-flight requests and releases every resource. Draining
// stops at cfg.Shutdown.DrainTimeout or at ctx's own deadline, whichever
// comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Shutdown.DrainTimeout)
	defer cancel()

	err := s.listeners.StopAll(drainCtx)

	s.signingKeys.Stop()
	s.revocation.Close()
	_ = s.registry.Close()
	s.sessions.Close()
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.logCloser != nil {
		_ = s.logCloser()
	}
	return err
}
