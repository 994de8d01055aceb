package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/tokenization_layer/internal/chain"
	"github.com/R3E-Network/tokenization_layer/internal/challenge"
	"github.com/R3E-Network/tokenization_layer/internal/compliance"
	"github.com/R3E-Network/tokenization_layer/internal/config"
	"github.com/R3E-Network/tokenization_layer/internal/httpapi"
	"github.com/R3E-Network/tokenization_layer/internal/indexer"
	"github.com/R3E-Network/tokenization_layer/internal/logging"
	"github.com/R3E-Network/tokenization_layer/internal/metrics"
	"github.com/R3E-Network/tokenization_layer/internal/middleware"
	"github.com/R3E-Network/tokenization_layer/internal/pipeline"
	"github.com/R3E-Network/tokenization_layer/internal/portal"
	"github.com/R3E-Network/tokenization_layer/internal/status"
	"github.com/R3E-Network/tokenization_layer/internal/storage"
	"github.com/R3E-Network/tokenization_layer/internal/storage/migrations"
	"github.com/R3E-Network/tokenization_layer/internal/tokens"
)

const (
	serviceName = "tokenization-gateway"

	statusRetention  = time.Hour
	limiterIdleAfter = 30 * time.Minute
)

// app holds the wired gateway.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tracker *status.Tracker
	limiter *middleware.RateLimiter
	db      *sqlx.DB
	handler http.Handler
	cron    *cron.Cron
}

// backends are the remote services the gateway talks to.
type backends struct {
	portal   *portal.Client
	receipts chain.ReceiptSource
	// indexer is nil when no indexer URL is configured.
	indexer *indexer.Client
}

func dialBackends(cfg *config.Config) (*backends, error) {
	portalClient, err := portal.New(portal.Config{
		URL:         cfg.Portal.URL,
		AccessToken: cfg.Portal.AccessToken,
		Timeout:     cfg.Portal.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("portal: %w", err)
	}
	b := &backends{portal: portalClient, receipts: portalClient}

	if cfg.Chain.RPCURL != "" {
		rpc, err := chain.NewClient(chain.Config{RPCURL: cfg.Chain.RPCURL, Timeout: cfg.Chain.Timeout})
		if err != nil {
			return nil, fmt.Errorf("chain: %w", err)
		}
		b.receipts = rpc
	}

	if cfg.Indexer.URL != "" {
		idx, err := indexer.New(indexer.Config{URL: cfg.Indexer.URL, Timeout: cfg.Indexer.Timeout})
		if err != nil {
			return nil, fmt.Errorf("indexer: %w", err)
		}
		b.indexer = idx
	}
	return b, nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (storage.Repository, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		logger.Warn(ctx, "No database configured; action records are kept in memory", nil)
		return storage.NewMemory(), nil, nil
	}

	db, err := storage.OpenPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return storage.NewPostgres(db), db, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	if cfg.Gateway.JWTPublicKeyPath == "" {
		return nil, fmt.Errorf("gateway.jwt_public_key_path is required")
	}
	publicKey, err := middleware.LoadRSAPublicKey(cfg.Gateway.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load JWT public key: %w", err)
	}

	b, err := dialBackends(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := compliance.NewRegistry(cfg.ModuleAddresses())
	if err != nil {
		return nil, err
	}
	factories, err := tokens.NewFactories(cfg.FactoryAddresses())
	if err != nil {
		return nil, err
	}

	repo, db, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db}

	var heads status.HeadSource
	deps := pipeline.Deps{
		Authenticator: challenge.NewAuthenticator(b.portal),
		Submitter:     b.portal,
		Receipts:      b.receipts,
		Logger:        logger,
	}
	if b.indexer != nil {
		deps.Indexer = b.indexer
		heads = b.indexer
	}
	a.tracker = status.NewTracker(b.receipts, heads)

	pipe := pipeline.New(deps, pipeline.Config{
		ReceiptTimeout: cfg.Pipeline.ReceiptTimeout,
		PollInterval:   cfg.Pipeline.PollInterval,
		RetryBackoff:   cfg.Pipeline.RetryBackoff,
	}, pipeline.WithObserver(a.tracker.Observe))

	api := httpapi.NewHandler(httpapi.Deps{
		Creator:       tokens.NewDispatcher(pipe, factories, registry),
		Actions:       tokens.NewActions(pipe, registry),
		Status:        a.tracker,
		Repository:    repo,
		Verifications: b.portal,
		Logger:        logger,
	}, httpapi.Config{
		IndexingTimeout: cfg.Pipeline.IndexingTimeout,
		AllowedOrigins:  cfg.Gateway.AllowedOrigins,
	})

	a.limiter = middleware.NewRateLimiter(cfg.Gateway.RateLimitPerSec, cfg.Gateway.RateLimitBurst, logger)
	auth := middleware.NewAuthMiddleware(publicKey, logger, nil)
	a.handler = buildHandler(api, auth, a.limiter, cfg.Gateway.AllowedOrigins, logger)

	a.cron = cron.New()
	if err := a.scheduleMaintenance(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// buildHandler assembles the router. Health and metrics are public; every
// other route requires a bearer token and is rate limited per user.
func buildHandler(api *httpapi.Handler, auth *middleware.AuthMiddleware, limiter *middleware.RateLimiter, origins []string, logger *logging.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.MetricsMiddleware())
	router.HandleFunc("/healthz", httpapi.HealthHandler(serviceName)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	protected := router.NewRoute().Subrouter()
	protected.Use(auth.Handler, limiter.Handler)
	api.Register(protected)

	cors := middleware.NewCORSMiddleware(origins)
	tracing := middleware.NewTracingMiddleware(logger)
	return tracing.Handler(cors.Handler(router))
}

func (a *app) scheduleMaintenance() error {
	if _, err := a.cron.AddFunc("@every 5m", func() {
		if n := a.tracker.Prune(statusRetention); n > 0 {
			a.logger.Debug(context.Background(), "Pruned transaction observations", map[string]interface{}{"count": n})
		}
	}); err != nil {
		return fmt.Errorf("schedule status pruning: %w", err)
	}
	if _, err := a.cron.AddFunc("@every 10m", func() {
		if n := a.limiter.Cleanup(limiterIdleAfter); n > 0 {
			a.logger.Debug(context.Background(), "Dropped idle rate limiters", map[string]interface{}{"count": n})
		}
	}); err != nil {
		return fmt.Errorf("schedule limiter cleanup: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error(context.Background(), "Failed to close database", err, nil)
		}
	}
}
