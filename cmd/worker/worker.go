package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/campaign"
	redisstore "github.com/contactpilot/contactpilot/internal/repository/redis"
)

type campaignRunner interface {
	Run(ctx context.Context, campaignID uuid.UUID) (campaign.Summary, error)
}

type activeLister interface {
	ListActive(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// worker drives the processor over one campaign or over every active one.
// With a leaser, a campaign is only processed while its lease is held.
type worker struct {
	processor    campaignRunner
	campaigns    activeLister
	leaser       *redisstore.Leaser
	pollInterval time.Duration
	logger       *zap.Logger
}

const pollBatch = 20

// poll processes active campaigns until ctx ends. Campaign failures are
// logged and do not stop the loop.
func (w *worker) poll(ctx context.Context) error {
	interval := w.pollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	for {
		ids, err := w.campaigns.ListActive(ctx, pollBatch)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("listing active campaigns", zap.Error(err))
		}
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			if err := w.runOne(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("campaign run failed", zap.String("campaign_id", id.String()), zap.Error(err))
			}
		}

		if err := browser.Sleep(ctx, interval); err != nil {
			return nil
		}
	}
}

// runOne processes a campaign under its lease. A campaign leased by another
// worker is skipped.
func (w *worker) runOne(ctx context.Context, id uuid.UUID) error {
	log := w.logger.With(zap.String("campaign_id", id.String()))

	if w.leaser == nil {
		_, err := w.processor.Run(ctx, id)
		return err
	}

	lease, err := w.leaser.Acquire(ctx, id)
	if errors.Is(err, redisstore.ErrLeaseHeld) {
		log.Info("campaign leased by another worker, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			log.Warn("releasing lease", zap.Error(err))
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return lease.KeepAlive(gctx) })
	g.Go(func() error {
		defer stop()
		_, err := w.processor.Run(gctx, id)
		return err
	})
	return g.Wait()
}
