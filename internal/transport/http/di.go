package http

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	appauth "github.com/astro-web3/spacecat-auth/internal/app/auth"
	"github.com/astro-web3/spacecat-auth/internal/config"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth/apikey"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth/imsauth"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth/jwt"
	"github.com/astro-web3/spacecat-auth/internal/domain/auth/legacy"
	"github.com/astro-web3/spacecat-auth/internal/infra/apikeystore"
	"github.com/astro-web3/spacecat-auth/internal/infra/cache"
	"github.com/astro-web3/spacecat-auth/internal/infra/ims"
	"github.com/astro-web3/spacecat-auth/internal/infra/metrics"
	httpclient "github.com/astro-web3/spacecat-auth/pkg/http"
	"github.com/astro-web3/spacecat-auth/pkg/logger"
	"github.com/astro-web3/spacecat-auth/pkg/otel"
	"github.com/astro-web3/spacecat-auth/pkg/tracer"
)

type Server struct {
	httpServer *http.Server
	closers    []func() error
}

const (
	idleTimeoutMultiplier = 2
	serviceName           = "spacecat-auth"
)

// deps holds what the handler chain is built from.
type deps struct {
	httpClient *httpclient.Client
	ims        *ims.Client
	db         *sql.DB
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.Format, cfg.Observability.LogSource)

	otelCfg := otel.DefaultConfig()
	otelCfg.EndpointURL = cfg.Observability.TracingEndpointURL
	otelCfg.Enabled = cfg.Observability.TraceEnabled
	if err := tracer.InitTracer(ctx, serviceName, otelCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	s := &Server{}

	var m *metrics.Metrics
	if cfg.Observability.MetricsEnabled {
		m = metrics.New()
	}

	tokenCache := cache.NewMemoryTokenCache()
	if cfg.Redis.URL != "" {
		redisClient, err := cache.NewRedisClient(cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		s.closers = append(s.closers, redisClient.Close)
		tokenCache = cache.NewRedisTokenCache(redisClient)
	}

	d := deps{httpClient: httpclient.NewClient(
		httpclient.WithTimeout(cfg.IMS.Timeout),
		httpclient.WithRetryCount(cfg.IMS.RetryCount),
	)}

	if cfg.IMS.Host != "" {
		imsOpts := []ims.Option{ims.WithHTTPClient(d.httpClient), ims.WithTokenCache(tokenCache)}
		if m != nil {
			imsOpts = append(imsOpts, ims.WithRecorder(m))
		}
		client, err := ims.NewFromConfig(ims.Config{
			Host:                   cfg.IMS.Host,
			ClientID:               cfg.IMS.ClientID,
			ClientCode:             cfg.IMS.ClientCode,
			ClientSecret:           cfg.IMS.ClientSecret,
			Scope:                  cfg.IMS.Scope,
			DisallowedEmailDomains: cfg.IMS.DisallowedEmailDomains,
			AdminGroupRole:         cfg.IMS.AdminGroupRole,
		}, imsOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ims client: %w", err)
		}
		d.ims = client
	}

	if cfg.Database.DSN != "" {
		db, err := apikeystore.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("failed to open api key store: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		d.db = db
	}

	handlers, err := buildHandlers(ctx, cfg, d)
	if err != nil {
		_ = s.close()
		return nil, err
	}
	for _, h := range handlers {
		if c, ok := h.(io.Closer); ok {
			s.closers = append(s.closers, c.Close)
		}
	}

	var svcOpts []appauth.Option
	if m != nil {
		svcOpts = append(svcOpts, appauth.WithRecorder(m))
	}
	authService := appauth.NewService(handlers, svcOpts...)
	logger.InfoContext(ctx, "auth handlers configured", slog.Any("handlers", authService.Handlers()))

	var imsClient IMSClient
	if d.ims != nil {
		imsClient = d.ims
	}
	router := NewRouter(NewHandler(imsClient), authService, cfg, m)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * idleTimeoutMultiplier,
	}
	return s, nil
}

// buildHandlers creates the handler chain in the configured order. A handler
// whose collaborators are missing fails the whole composition.
func buildHandlers(ctx context.Context, cfg *config.Config, d deps) ([]auth.Handler, error) {
	handlers := make([]auth.Handler, 0, len(cfg.Auth.Handlers))
	for _, name := range cfg.Auth.Handlers {
		var (
			h   auth.Handler
			err error
		)
		switch name {
		case config.HandlerJWT:
			h = jwt.New(cfg.Auth.PublicKeyB64)
		case config.HandlerLegacyAPIKey:
			h, err = legacy.New(legacy.Config{
				UserAPIKey:  cfg.Auth.UserAPIKey,
				AdminAPIKey: cfg.Auth.AdminAPIKey,
				AdminRoutes: cfg.Auth.AdminRoutes,
			})
		case config.HandlerScopedAPIKey:
			h, err = scopedAPIKeyHandler(ctx, cfg, d.db)
		case config.HandlerIMS:
			h, err = imsHandler(ctx, cfg, d)
		default:
			err = fmt.Errorf("unknown auth handler %q", name)
		}
		if err != nil {
			closeHandlers(handlers)
			return nil, fmt.Errorf("failed to create %s handler: %w", name, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}

func closeHandlers(handlers []auth.Handler) {
	for _, h := range handlers {
		if c, ok := h.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

func scopedAPIKeyHandler(ctx context.Context, cfg *config.Config, db *sql.DB) (auth.Handler, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database.dsn is required", auth.ErrMisconfigured)
	}
	store := apikeystore.New(db)
	if cfg.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return apikey.New(store)
}

func imsHandler(ctx context.Context, cfg *config.Config, d deps) (auth.Handler, error) {
	if d.ims == nil {
		return nil, fmt.Errorf("%w: ims.host is required", auth.ErrMisconfigured)
	}
	hcfg, err := imsauth.ParseConfig(cfg.Auth.IMSHandler)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMisconfigured, err)
	}
	return imsauth.New(ctx, hcfg, d.ims, imsauth.WithHTTPClient(d.httpClient))
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests and then releases redis, the database
// and the handlers' background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *Server) close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
