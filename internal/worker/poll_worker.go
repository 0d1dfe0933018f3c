package worker

import (
	"context"
	"errors"
	"time"

	"shotgun-exporter/internal/service"
	apperrors "shotgun-exporter/pkg/app_errors"
	"shotgun-exporter/pkg/logger"

	"go.uber.org/zap"
)

// PollWorker drives the collector on a fixed wall-clock cadence. One
// cycle runs to completion before the next tick is considered; a slow
// cycle simply delays the next one.
type PollWorker interface {
	Run(ctx context.Context) error
}

type PollWorkerImpl struct {
	collector service.CollectorService
	interval  time.Duration
	log       *zap.Logger
}

func NewPollWorker(collector service.CollectorService, interval time.Duration) PollWorker {
	return &PollWorkerImpl{
		collector: collector,
		interval:  interval,
		log:       logger.WithComponent("poll_worker"),
	}
}

// Run blocks until ctx is cancelled or the store fails. Upstream fetch
// failures skip the cycle and wait for the next interval; anything else
// coming out of a cycle is a local store problem and stops the worker.
func (w *PollWorkerImpl) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.collector.Collect(ctx); err != nil {
			if errors.Is(err, apperrors.ErrUpstream) {
				w.log.Warn("cycle skipped, retrying next interval", zap.Error(err))
			} else if ctx.Err() != nil {
				return nil
			} else {
				w.log.Error("store failure, stopping", zap.Error(err))
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
