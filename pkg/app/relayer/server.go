// Package relayer implements app.Runner for the relay process.
package relayer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apphttp "github.com/chainsafe/nft-migration-relay/pkg/app/http"
	"github.com/chainsafe/nft-migration-relay/pkg/app/httpserver"
	"github.com/chainsafe/nft-migration-relay/pkg/config"
	"github.com/chainsafe/nft-migration-relay/pkg/db"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/pgutil"
	"github.com/chainsafe/nft-migration-relay/pkg/relayer"
	"github.com/chainsafe/nft-migration-relay/pkg/relayer/service"
	"github.com/chainsafe/nft-migration-relay/pkg/universe"
)

const defaultHTTPMiddlewareTimeout = 60 * time.Second

// Readiness is satisfied by the relayer engine once resume has finished.
type Readiness interface {
	IsReady() bool
}

// Server holds configuration for the relay process.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new relay Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run connects every universe, starts the engine and serves the HTTP API.
// It blocks until an OS shutdown signal is received or a fatal server error occurs.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting NFT migration relay", zap.Int("universes", len(cfg.Universes)))

	bunDB, err := pgutil.ConnectDB(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect relay db: %w", err)
	}
	defer func() { _ = bunDB.Close() }()
	store := db.NewStore(bunDB)
	logger.Info("Database connection established")

	signer, err := ethereum.NewSigner(cfg.Relay.PrivateKey)
	if err != nil {
		return fmt.Errorf("load relay key: %w", err)
	}
	logger.Info("Relay identity loaded", zap.String("address", signer.Address().Hex()))

	universes, err := universe.NewRegistry(cfg.Universes)
	if err != nil {
		return fmt.Errorf("build universe registry: %w", err)
	}

	chains, closeChains, err := connectChains(ctx, universes, signer, store, cfg.Relay.EventTimeout, logger)
	if err != nil {
		return err
	}
	defer closeChains()

	orchestrator := relayer.NewOrchestrator(universes, chains, store, relayer.Options{
		EscrowProofAttempts: cfg.Relay.EscrowProofAttempts,
		EscrowProofDelay:    cfg.Relay.EscrowProofDelay,
		PendingTxWait:       cfg.Relay.PendingTxWait,
		PendingTxPoll:       cfg.Relay.PendingTxPoll,
	}, logger)

	engine := relayer.NewEngine(cfg.Engine, orchestrator, store, chains, logger)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start relayer engine: %w", err)
	}
	stopEngine := sync.OnceFunc(engine.Stop)
	defer stopEngine()

	query := relayer.NewLogQueryService(relayer.NewQueryService(universes, chains), logger)
	limiter := service.NewPremintLimiter(cfg.Relay.PremintPerMinute, cfg.Relay.PremintBurst)
	svc := service.NewService(engine, query, store, limiter)

	router := newRouter(cfg, svc, engine, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return httpserver.ServeAndWait(ctx, logger, httpServer, cfg.Server.ShutdownTimeout, stopEngine)
}

// connectChains dials every configured universe. A universe that cannot be
// reached at start aborts the process.
func connectChains(
	ctx context.Context,
	universes *universe.Registry,
	signer *ethereum.Signer,
	journal ethereum.TxJournal,
	eventTimeout time.Duration,
	logger *zap.Logger,
) (relayer.Chains, func(), error) {
	chains := make(relayer.Chains)
	var clients []*ethereum.Client
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	for _, u := range universes.All() {
		ucfg := u.Config
		client, err := ethereum.NewClient(ctx, &ucfg, signer, journal, eventTimeout, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect universe %s: %w", u.ID, err)
		}
		clients = append(clients, client)
		chains[u.ID] = client
		logger.Info("Universe connected",
			zap.String("universe", u.ID),
			zap.Int64("chain_id", u.ChainID),
			zap.String("bridge", u.Bridge.Hex()))
	}
	return chains, closeAll, nil
}

func newRouter(cfg *config.Config, svc service.Service, ready Readiness, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultHTTPMiddlewareTimeout))
	r.Use(accessLog(logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	service.RegisterRoutes(r, svc, logger)
	r.Group(func(r chi.Router) {
		r.Use(apphttp.RequireAdmin(cfg.Relay.AdminJWTSecret))
		service.RegisterAdminRoutes(r, svc, logger)
	})

	return r
}

// accessLog writes one zap entry per request.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
