package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ledger-service/internal/cache"
	"ledger-service/internal/config"
	hrest "ledger-service/internal/handler/rest"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/repository/memory"
	"ledger-service/internal/repository/postgres"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Server owns every long-lived dependency of the ledger service.
type Server struct {
	cfg    config.AppConfig
	logger *zap.Logger

	store     repository.Store
	rdb       *redis.Client
	cache     *cache.TransferCache
	publisher pub.Publisher

	reconciler *usecase.Reconciler
	httpSrv    *http.Server
	grpcSrv    *grpc.Server
	health     *health.Server
}

// New connects the store, cache and event sink and wires the usecases.
func New(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.store = store

	if cfg.RedisAddr != "" {
		rdb, err := config.ConnectRedis(ctx, cfg)
		switch {
		case err == nil:
			s.rdb = rdb
		case cfg.EventsSink == "redis":
			s.store.Close()
			return nil, err
		default:
			logger.Warn("redis unavailable, idempotency cache disabled", zap.Error(err))
		}
	}

	publisher, err := newPublisher(cfg, s.rdb, logger)
	if err != nil {
		s.closeAll()
		return nil, err
	}
	s.publisher = publisher

	ids := utils.NewIDGenerator()
	var transferCache usecase.TransferCache
	if s.rdb != nil {
		s.cache = cache.NewTransferCache(s.rdb, cfg.IdempotencyCacheTTL, logger)
		transferCache = s.cache
	}

	// --- Usecases ---
	ledgerUC := usecase.NewLedgerUsecase(store, ids, logger)
	accountUC := usecase.NewAccountUsecase(store, ledgerUC, ids, usecase.AccountPolicy{
		DefaultTimezone:   cfg.DefaultTimezone,
		CheckingOverdraft: cfg.CheckingOverdraftLimit,
		SavingsOverdraft:  cfg.SavingsOverdraftLimit,
	}, publisher, nil, logger)
	cardUC := usecase.NewCardUsecase(store, accountUC, ids, cfg.MaxActiveCards, publisher, nil, logger)
	transferUC := usecase.NewTransferUsecase(store, ledgerUC, transferCache, ids, publisher, nil, logger)
	statementUC := usecase.NewStatementUsecase(store, nil, logger)
	auditUC := usecase.NewAuditUsecase(ids, publisher, nil, logger)
	s.reconciler = usecase.NewReconciler(store, ledgerUC, cfg.PendingTransferTimeout, cfg.ReconcileInterval, publisher, nil, logger)

	// --- REST ---
	handler := hrest.NewLedgerRestHandler(accountUC, ledgerUC, transferUC, cardUC, statementUC, auditUC, store, logger)
	s.httpSrv = &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.Router(hrest.RouterOptions{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- gRPC ---
	s.grpcSrv, s.health = newGRPCServer()
	return s, nil
}

func openStore(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (repository.Store, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store, data will not survive a restart")
		return memory.New(), nil
	}
	if err := postgres.Migrate(cfg.DB.URL(), cfg.DB.Name, logger); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	pool, err := config.ConnectDB(ctx, cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return postgres.NewStore(pool), nil
}

func newPublisher(cfg config.AppConfig, rdb *redis.Client, logger *zap.Logger) (pub.Publisher, error) {
	switch cfg.EventsSink {
	case "redis":
		if rdb == nil {
			return nil, errors.New("EVENTS_SINK=redis requires REDIS_ADDR")
		}
		return pub.NewRedisPublisher(rdb, logger), nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("EVENTS_SINK=kafka requires KAFKA_BROKERS")
		}
		writer := pub.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		return pub.NewKafkaPublisher(writer, logger), nil
	default:
		return pub.NewLogPublisher(logger), nil
	}
}

// Run serves HTTP and gRPC and runs the reconciler until ctx is cancelled or
// a listener fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		s.closeAll()
		return fmt.Errorf("listen on %s: %w", s.cfg.GRPCAddr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("ledger REST server listening", zap.String("addr", s.cfg.HTTPAddr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		s.logger.Info("ledger gRPC server listening", zap.String("addr", s.cfg.GRPCAddr))
		if err := s.grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go s.reconciler.Run(ctx)
	go watchStore(ctx, s.store, s.health, healthCheckInterval, s.logger)

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("ledger service shutting down")
	case runErr = <-errCh:
		s.logger.Error("ledger service failed", zap.Error(runErr))
	}
	cancel()

	s.shutdown()
	return runErr
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.health.Shutdown()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}

	s.closeAll()
}

func (s *Server) closeAll() {
	if s.cache != nil {
		hits, misses := s.cache.Stats()
		s.logger.Info("idempotency cache stats", zap.Int64("hits", hits), zap.Int64("misses", misses))
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("closing event publisher", zap.Error(err))
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Warn("closing redis", zap.Error(err))
		}
	}
	if s.store != nil {
		s.store.Close()
	}
}
