// Package webhook delivers job completion notifications through a durable
// outbox. Every notification is persisted before the first attempt, so a
// crash between job completion and delivery loses nothing.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"taskforge/pkg/logger"
	"taskforge/pkg/metrics"
	"taskforge/pkg/models"
	"taskforge/pkg/resilience"
	"taskforge/pkg/storage"
)

// Config tunes webhook delivery.
type Config struct {
	Timeout     time.Duration
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
	}
}

// Dispatcher creates outbox events and performs delivery attempts. Target
// hosts are isolated behind per-host circuit breakers so one dead endpoint
// cannot consume the retry budget of the rest.
type Dispatcher struct {
	cfg      Config
	events   storage.WebhookEventStore
	client   *http.Client
	breakers *resilience.Registry
	log      *zap.Logger

	now func() time.Time
}

func NewDispatcher(cfg Config, events storage.WebhookEventStore) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		events:   events,
		client:   &http.Client{Timeout: cfg.Timeout},
		breakers: resilience.NewRegistry(resilience.DefaultCircuitBreakerConfig()),
		log:      logger.Get().Named("webhook"),
		now:      time.Now,
	}
}

// JobFinished implements processor.Notifier: it freezes the notification
// payload into an outbox event and makes one inline delivery attempt.
func (d *Dispatcher) JobFinished(ctx context.Context, job *models.Job, succeeded bool) {
	if job.WebhookURL == "" {
		return
	}

	status := "failed"
	if succeeded {
		status = "completed"
	}

	// Both result and error keys are always present; the inapplicable one
	// is null so consumers can rely on the shape.
	payload := models.JSONDoc{
		"jobId":   job.ID.String(),
		"jobType": job.Type,
		"status":  status,
		"result":  nil,
		"error":   nil,
	}
	if succeeded {
		payload["result"] = map[string]interface{}(job.Result)
	} else {
		payload["error"] = job.Error
	}
	if job.CompletedAt != nil {
		payload["completedAt"] = job.CompletedAt.UTC().Format(time.RFC3339)
	}

	event := &models.WebhookEvent{
		JobID:       job.ID,
		JobType:     job.Type,
		URL:         job.WebhookURL,
		Payload:     payload,
		Status:      models.WebhookStatusPending,
		MaxAttempts: d.cfg.MaxAttempts,
	}
	if err := d.events.CreateEvent(ctx, event); err != nil {
		d.log.Error("failed to persist webhook event",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}

	// First attempt is inline; the retrier owns the rest.
	d.Attempt(ctx, event)
}

// Attempt performs one delivery attempt and records the outcome on the
// event row.
func (d *Dispatcher) Attempt(ctx context.Context, event *models.WebhookEvent) {
	if err := d.events.MarkAttempt(ctx, event.ID, d.now().UTC()); err != nil {
		d.log.Error("failed to record webhook attempt",
			zap.String("event_id", event.ID.String()), zap.Error(err))
		return
	}
	event.Attempts++

	statusCode, err := d.send(ctx, event)
	if err == nil {
		if merr := d.events.MarkSuccess(ctx, event.ID, statusCode, d.now().UTC()); merr != nil {
			d.log.Error("failed to record webhook success",
				zap.String("event_id", event.ID.String()), zap.Error(merr))
		}
		metrics.WebhookAttemptsTotal.WithLabelValues("success").Inc()
		d.log.Info("webhook delivered",
			zap.String("event_id", event.ID.String()),
			zap.String("job_id", event.JobID.String()),
			zap.Int("status_code", statusCode),
			zap.Int("attempt", event.Attempts))
		return
	}

	terminal := event.Attempts >= event.MaxAttempts
	var codePtr *int
	if statusCode > 0 {
		codePtr = &statusCode
	}
	if merr := d.events.MarkFailure(ctx, event.ID, codePtr, err.Error(), terminal); merr != nil {
		d.log.Error("failed to record webhook failure",
			zap.String("event_id", event.ID.String()), zap.Error(merr))
	}

	outcome := "retryable"
	if terminal {
		outcome = "exhausted"
	}
	metrics.WebhookAttemptsTotal.WithLabelValues(outcome).Inc()
	d.log.Warn("webhook delivery failed",
		zap.String("event_id", event.ID.String()),
		zap.String("job_id", event.JobID.String()),
		zap.Int("attempt", event.Attempts),
		zap.Int("max_attempts", event.MaxAttempts),
		zap.Bool("terminal", terminal),
		zap.Error(err))
}

// send posts the payload. It returns the HTTP status code when a response
// was received (zero otherwise) and a non-nil error for any non-2xx outcome.
func (d *Dispatcher) send(ctx context.Context, event *models.WebhookEvent) (int, error) {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	breaker := d.breakers.Get(hostKey(event.URL))

	var statusCode int
	execErr := breaker.Execute(ctx, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, event.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("invalid webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Event", "job.status")
		req.Header.Set("X-Job-Id", event.JobID.String())

		resp, err := d.client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return errors.New("request timeout")
			}
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		statusCode = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})

	return statusCode, execErr
}

// hostKey scopes circuit breakers per target host.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
