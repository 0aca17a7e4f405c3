// File: cmd/engine.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xkilldash9x/relock/api/schemas"
	"github.com/xkilldash9x/relock/internal/config"
	"github.com/xkilldash9x/relock/internal/healing"
	"github.com/xkilldash9x/relock/internal/store"
	"go.uber.org/zap"
)

// newHealer assembles a healing engine from the loaded configuration. The
// returned closer releases the database pool when one was opened.
func newHealer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*healing.Healer, func(), error) {
	var (
		repo   schemas.StateRepository
		closer = func() {}
	)

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pg, err := store.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		repo = pg
		closer = pool.Close
		logger.Info("Using Postgres state repository")
	} else {
		repo = store.NewMemory()
		logger.Debug("No database configured, state kept in memory")
	}

	h, err := healing.NewHealer(ctx, healing.Options{
		Config:             cfg.Healing.Policy(),
		Priors:             cfg.StrategyPriors,
		ModelEnabled:       cfg.Model.Enabled,
		MinTrainingSamples: cfg.Model.MinTrainingSamples,
		MaxTrainingSamples: cfg.Model.MaxTrainingSamples,
		Repository:         repo,
		FailureWindow:      cfg.History.FailureWindow(),
		Retention:          cfg.History.Retention(),
		Logger:             logger,
	})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return h, closer, nil
}
