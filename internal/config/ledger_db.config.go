package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ConnectDB opens the pgx pool, retrying with exponential backoff while the
// database comes up.
func ConnectDB(ctx context.Context, cfg DBConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	retries := cfg.ConnectRetries
	if retries < 1 {
		retries = 1
	}
	delay := 2 * time.Second

	for i := 1; i <= retries; i++ {
		logger.Info("connecting to database", zap.Int("attempt", i), zap.Int("max_attempts", retries))

		pool, connErr := connectOnce(ctx, poolCfg)
		if connErr == nil {
			logger.Info("database connected", zap.String("host", cfg.Host), zap.String("db", cfg.Name))
			return pool, nil
		}
		err = connErr
		logger.Warn("database connection failed", zap.Error(err))

		if i < retries {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to DB after %d attempts: %w", retries, err)
}

func connectOnce(ctx context.Context, poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return pool, nil
}
