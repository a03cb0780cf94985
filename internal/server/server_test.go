package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/pub"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	mr := miniredis.RunT(t)
	return config.AppConfig{
		HTTPAddr:               "127.0.0.1:0",
		GRPCAddr:               "127.0.0.1:0",
		StoreDriver:            "memory",
		RedisAddr:              mr.Addr(),
		EventsSink:             "redis",
		IdempotencyCacheTTL:    time.Hour,
		DefaultTimezone:        "UTC",
		MaxActiveCards:         3,
		PendingTransferTimeout: time.Minute,
		ReconcileInterval:      time.Second,
		ShutdownTimeout:        2 * time.Second,
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	logger := zaptest.NewLogger(t)
	srv, err := New(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	require.NotNil(t, srv.rdb)
	assert.IsType(t, &pub.RedisPublisher{}, srv.publisher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_CloseLogsCacheStats(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv, err := New(context.Background(), testConfig(t), zap.New(core))
	require.NoError(t, err)
	require.NotNil(t, srv.cache)

	_, _, err = srv.cache.Get(context.Background(), "missing-key-1")
	require.NoError(t, err)
	srv.closeAll()

	entries := logs.FilterMessage("idempotency cache stats").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].ContextMap()["hits"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["misses"])
}

func TestServer_RedisSinkRequiresRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestServer_CacheIsOptionalForOtherSinks(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"
	cfg.EventsSink = "log"

	srv, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, srv.rdb)
	assert.IsType(t, &pub.LogPublisher{}, srv.publisher)
	srv.closeAll()
}

func TestNewPublisher(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := newPublisher(config.AppConfig{EventsSink: "redis"}, nil, logger)
	assert.Error(t, err)

	_, err = newPublisher(config.AppConfig{EventsSink: "kafka"}, nil, logger)
	assert.Error(t, err)

	p, err := newPublisher(config.AppConfig{EventsSink: "kafka", KafkaBrokers: []string{"127.0.0.1:9092"}, KafkaTopic: "ledger.events"}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &pub.KafkaPublisher{}, p)
	require.NoError(t, p.Close())
}

func TestCheckStore(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, hs := newGRPCServer()
	ctx := context.Background()

	resp, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStore(ctx, fakePinger{}, hs, logger))
	resp, err = hs.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING,
		checkStore(ctx, fakePinger{err: errors.New("connection refused")}, hs, logger))
	resp, err = hs.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
