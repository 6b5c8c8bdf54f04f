package webhook

import (
	"context"
	"time"

	"go.uber.org/zap"

	"taskforge/pkg/models"
	"taskforge/pkg/storage"
)

// RetrierConfig tunes the background redelivery loop.
type RetrierConfig struct {
	// Interval is the scan cadence.
	Interval time.Duration
	// BaseDelay seeds the per-event exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// BatchSize bounds events scanned per pass.
	BatchSize int
}

func DefaultRetrierConfig() RetrierConfig {
	return RetrierConfig{
		Interval:  30 * time.Second,
		BaseDelay: 5 * time.Second,
		MaxDelay:  5 * time.Minute,
		BatchSize: 50,
	}
}

// Retrier re-attempts undelivered webhook events with exponential backoff.
type Retrier struct {
	cfg        RetrierConfig
	events     storage.WebhookEventStore
	dispatcher *Dispatcher
	log        *zap.Logger

	now func() time.Time
}

func NewRetrier(cfg RetrierConfig, events storage.WebhookEventStore, dispatcher *Dispatcher) *Retrier {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Retrier{
		cfg:        cfg,
		events:     events,
		dispatcher: dispatcher,
		log:        dispatcher.log.Named("retrier"),
		now:        time.Now,
	}
}

// Run scans for retryable events until ctx is cancelled.
func (r *Retrier) Run(ctx context.Context) {
	r.log.Info("webhook retrier started", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("webhook retrier stopped")
			return
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				r.log.Error("webhook retry pass failed", zap.Error(err))
			}
		}
	}
}

// Pass performs one redelivery scan.
func (r *Retrier) Pass(ctx context.Context) error {
	events, err := r.events.ListRetryable(ctx, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	for i := range events {
		event := &events[i]
		if !r.Due(event, now) {
			continue
		}
		r.dispatcher.Attempt(ctx, event)
	}
	return nil
}

// Due reports whether the event's backoff window has elapsed. An event that
// was never attempted is due immediately.
func (r *Retrier) Due(event *models.WebhookEvent, now time.Time) bool {
	if event.LastAttemptAt == nil {
		return true
	}
	return now.Sub(*event.LastAttemptAt) >= r.Backoff(event.Attempts)
}

// Backoff returns the delay after the given number of attempts: the base
// delay doubled per attempt beyond the first, capped at MaxDelay.
func (r *Retrier) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	delay := r.cfg.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	if delay > r.cfg.MaxDelay {
		return r.cfg.MaxDelay
	}
	return delay
}
