// Package price implements the snapshot refresher, the single producer
// of the price_snapshots table.
package price

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"swapsmith/internal/core"
	"swapsmith/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Config holds refresher tuning.
type Config struct {
	RefreshInterval time.Duration
	SnapshotTTL     time.Duration
	Assets          []string // static "ASSET/chain" pairs always refreshed
}

func (c *Config) applyDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 60 * time.Second
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 10 * time.Minute
	}
}

// PriceSource is the slice of the aggregator client the refresher needs.
type PriceSource interface {
	GetPrice(ctx context.Context, asset, network string) (decimal.Decimal, error)
}

// SnapshotStore is the write side of the price cache plus the dynamic
// working set derived from armed limit orders.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, ps *core.PriceSnapshot) error
	ListSnapshotKeys(ctx context.Context) ([][2]string, error)
}

// Refresher keeps price snapshots inside the staleness window.
type Refresher struct {
	cfg     Config
	source  PriceSource
	store   SnapshotStore
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	now func() time.Time
}

// New builds a refresher.
func New(cfg Config, source PriceSource, store SnapshotStore, logger core.ILogger) *Refresher {
	cfg.applyDefaults()
	return &Refresher{
		cfg:     cfg,
		source:  source,
		store:   store,
		logger:  logger.WithField("component", "price_refresher"),
		metrics: telemetry.GetGlobalMetrics(),
		now:     time.Now,
	}
}

// Start launches the refresh loop. Idempotent.
func (r *Refresher) Start(ctx context.Context) error {
	if !r.isRunning.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.run(runCtx)

	r.logger.Info("Price refresher started",
		"interval", r.cfg.RefreshInterval, "static_assets", len(r.cfg.Assets))
	return nil
}

// Stop signals the loop and waits for the in-flight refresh.
func (r *Refresher) Stop() error {
	if !r.isRunning.CompareAndSwap(true, false) {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("Price refresher stopped")
	return nil
}

func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	// Refresh once immediately so consumers never start against an
	// empty cache.
	r.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh fetches every asset in the working set, a few in parallel.
// Per-asset failures are absorbed; the stale snapshot simply ages until
// consumers abstain.
func (r *Refresher) refresh(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, key := range r.workingSet(ctx) {
		asset, chain := key[0], key[1]
		g.Go(func() error {
			price, err := r.source.GetPrice(gctx, asset, chain)
			if err != nil {
				r.metrics.RecordPriceRefresh(gctx, "error")
				r.logger.Warn("Price refresh failed", "asset", asset, "chain", chain, "error", err)
				return nil
			}

			now := r.now()
			err = r.store.UpsertSnapshot(gctx, &core.PriceSnapshot{
				Asset:     asset,
				Chain:     chain,
				Price:     price,
				UpdatedAt: now,
				ExpiresAt: now.Add(r.cfg.SnapshotTTL),
			})
			if err != nil {
				r.metrics.RecordPriceRefresh(gctx, "error")
				r.logger.Error("Failed to persist snapshot", "asset", asset, "chain", chain, "error", err)
				return nil
			}
			r.metrics.RecordPriceRefresh(gctx, "ok")
			return nil
		})
	}
	_ = g.Wait()
}

// workingSet merges the configured static pairs with the reference assets
// of currently armed limit orders, deduplicated.
func (r *Refresher) workingSet(ctx context.Context) [][2]string {
	seen := make(map[string]bool)
	var set [][2]string

	add := func(asset, chain string) {
		if asset == "" || chain == "" {
			return
		}
		k := asset + "/" + chain
		if !seen[k] {
			seen[k] = true
			set = append(set, [2]string{asset, chain})
		}
	}

	for _, pair := range r.cfg.Assets {
		asset, chain, ok := strings.Cut(pair, "/")
		if !ok {
			continue
		}
		add(asset, chain)
	}

	dynamic, err := r.store.ListSnapshotKeys(ctx)
	if err != nil {
		r.logger.Warn("Failed to list armed reference assets", "error", err)
		return set
	}
	for _, key := range dynamic {
		add(key[0], key[1])
	}
	return set
}
