package webhooks

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/database"
)

// retrySchedule is the fixed six-step backoff: delay before the Nth
// retry, measured from the prior failed attempt.
var retrySchedule = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	21600 * time.Second,
	86400 * time.Second,
}

const maxResponseBodyBytes = 1024

// Worker polls webhook_deliveries for due attempts and delivers them.
type Worker struct {
	store      *Store
	db         *database.DB
	cfg        config.WebhookConfig
	httpClient *http.Client
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewWorker(db *database.DB, cfg config.WebhookConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:  NewStore(db),
		db:     db,
		cfg:    cfg,
		httpClient: &http.Client{
			Timeout: cfg.AttemptTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (w *Worker) Start() {
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Starting webhook delivery worker")

	go w.run()
}

func (w *Worker) Stop() {
	log.Info().Msg("Stopping webhook delivery worker")
	w.cancel()
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.processDue(); err != nil {
				log.Error().Err(err).Msg("Error processing webhook deliveries")
			}
		}
	}
}

// EnqueueDelivery creates a pending delivery due immediately.
func (w *Worker) EnqueueDelivery(ctx context.Context, webhookID, eventType string, payload []byte) (*Delivery, error) {
	now := time.Now().UTC()
	d := &Delivery{
		ID:           uuid.New().String(),
		WebhookID:    webhookID,
		EventID:      uuid.New().String(),
		EventType:    eventType,
		Payload:      string(payload),
		Status:       DeliveryPending,
		AttemptCount: 0,
		NextRetryAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(id, webhook_id, event_id, event_type, payload, status, attempt_count, next_retry_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?)
	`, d.ID, d.WebhookID, d.EventID, d.EventType, d.Payload,
		now.Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("enqueueing delivery: %w", err)
	}
	return d, nil
}

// DeliverNow sends a single synchronous delivery attempt to wh — used by
// the test-delivery endpoint, which needs the outcome in the response
// rather than a row picked up later by the poll loop. It records the
// attempt in webhook_deliveries like any other delivery, but never
// schedules a retry: a failed test delivery is simply marked failed.
func (w *Worker) DeliverNow(ctx context.Context, wh *Webhook, eventType string, payload []byte) (*Delivery, error) {
	now := time.Now().UTC()
	d := &Delivery{
		ID:           uuid.New().String(),
		WebhookID:    wh.ID,
		EventID:      uuid.New().String(),
		EventType:    eventType,
		Payload:      string(payload),
		Status:       DeliveryPending,
		AttemptCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	signature := cryptoutil.SignHMACSHA256([]byte(wh.Secret), payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		d.Status = DeliveryFailed
		d.ResponseBody = fmt.Sprintf("building request: %v", err)
	} else {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", w.cfg.UserAgent)
		req.Header.Set("X-Relay-Event", d.EventType)
		req.Header.Set("X-Relay-Delivery", d.ID)
		req.Header.Set("X-Relay-Signature", signature)

		resp, doErr := w.httpClient.Do(req)
		if doErr != nil {
			d.Status = DeliveryFailed
			d.ResponseBody = fmt.Sprintf("transport error: %v", doErr)
		} else {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
			if len(body) > maxResponseBodyBytes {
				body = body[:maxResponseBodyBytes]
			}
			statusCode := resp.StatusCode
			d.ResponseStatusCode = &statusCode
			d.ResponseBody = string(body)
			if statusCode >= 200 && statusCode < 300 {
				d.Status = DeliverySuccess
			} else {
				d.Status = DeliveryFailed
			}
		}
	}
	d.UpdatedAt = time.Now().UTC()

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries
			(id, webhook_id, event_id, event_type, payload, status, response_status_code, response_body,
			 attempt_count, next_retry_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
	`, d.ID, d.WebhookID, d.EventID, d.EventType, d.Payload, string(d.Status),
		nullableInt(d.ResponseStatusCode), nullableString(d.ResponseBody, ""),
		d.AttemptCount, d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("recording test delivery: %w", err)
	}

	if d.Status == DeliverySuccess {
		if resetErr := w.store.ResetFailureCount(ctx, wh.ID); resetErr != nil {
			log.Error().Err(resetErr).Str("webhook_id", wh.ID).Msg("failed to reset failure count")
		}
	}

	return d, nil
}

func (w *Worker) processDue() error {
	rows, err := w.db.QueryContext(w.ctx, `
		SELECT d.id, d.webhook_id, d.event_id, d.event_type, d.payload, d.status,
		       d.response_status_code, d.response_body, d.attempt_count, d.next_retry_at,
		       d.created_at, d.updated_at,
		       h.url, h.secret
		FROM webhook_deliveries d
		JOIN webhooks h ON h.id = d.webhook_id
		WHERE d.status = 'pending' AND d.next_retry_at <= ?
		ORDER BY d.next_retry_at ASC
		LIMIT ?
	`, time.Now().UTC().Format(time.RFC3339), w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("querying due deliveries: %w", err)
	}
	defer rows.Close()

	type dueDelivery struct {
		delivery Delivery
		url      string
		secret   string
	}

	var due []dueDelivery
	for rows.Next() {
		var d Delivery
		var responseStatusCode sql.NullInt64
		var responseBody sql.NullString
		var nextRetryAt sql.NullString
		var createdAt, updatedAt, url, secret string
		var status string

		err := rows.Scan(&d.ID, &d.WebhookID, &d.EventID, &d.EventType, &d.Payload, &status,
			&responseStatusCode, &responseBody, &d.AttemptCount, &nextRetryAt,
			&createdAt, &updatedAt, &url, &secret)
		if err != nil {
			return fmt.Errorf("scanning delivery row: %w", err)
		}

		d.Status = DeliveryStatus(status)
		if responseStatusCode.Valid {
			v := int(responseStatusCode.Int64)
			d.ResponseStatusCode = &v
		}
		d.ResponseBody = responseBody.String
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		due = append(due, dueDelivery{delivery: d, url: url, secret: secret})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating delivery rows: %w", err)
	}

	for _, item := range due {
		w.attempt(item.delivery, item.url, item.secret)
	}

	return nil
}

func (w *Worker) attempt(d Delivery, url, secret string) {
	signature := cryptoutil.SignHMACSHA256([]byte(secret), []byte(d.Payload))

	req, err := http.NewRequestWithContext(w.ctx, http.MethodPost, url, bytes.NewReader([]byte(d.Payload)))
	if err != nil {
		w.handleTransient(d, fmt.Sprintf("building request: %v", err), nil, nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.cfg.UserAgent)
	req.Header.Set("X-Relay-Event", d.EventType)
	req.Header.Set("X-Relay-Delivery", d.ID)
	req.Header.Set("X-Relay-Signature", signature)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.handleTransient(d, fmt.Sprintf("transport error: %v", err), nil, nil)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if len(body) > maxResponseBodyBytes {
		body = body[:maxResponseBodyBytes]
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.markSuccess(d, resp.StatusCode, body)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		statusCode := resp.StatusCode
		w.handleTransient(d, "", &statusCode, body)
	default:
		w.markPermanentFailure(d, resp.StatusCode, body)
	}
}

func (w *Worker) markSuccess(d Delivery, statusCode int, body []byte) {
	now := time.Now().UTC()
	_, err := w.db.ExecContext(w.ctx, `
		UPDATE webhook_deliveries
		SET status = 'success', response_status_code = ?, response_body = ?, updated_at = ?
		WHERE id = ?
	`, statusCode, string(body), now.Format(time.RFC3339), d.ID)
	if err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record successful delivery")
		return
	}
	if err := w.store.ResetFailureCount(w.ctx, d.WebhookID); err != nil {
		log.Error().Err(err).Str("webhook_id", d.WebhookID).Msg("failed to reset failure count")
	}
	log.Info().Str("delivery_id", d.ID).Str("webhook_id", d.WebhookID).Int("status", statusCode).Msg("webhook delivered")
}

// handleTransient covers both HTTP 429/5xx and transport/timeout errors:
// advance attempt_count and either schedule the next retry per the fixed
// schedule or mark max_retries_exceeded after the sixth failure.
func (w *Worker) handleTransient(d Delivery, errMsg string, statusCode *int, respBody []byte) {
	body := string(respBody)

	attempt := d.AttemptCount + 1
	now := time.Now().UTC()

	if attempt >= len(retrySchedule) {
		_, err := w.db.ExecContext(w.ctx, `
			UPDATE webhook_deliveries
			SET status = 'max_retries_exceeded', attempt_count = ?, response_status_code = ?,
			    response_body = ?, next_retry_at = NULL, updated_at = ?
			WHERE id = ?
		`, attempt, nullableInt(statusCode), nullableString(body, errMsg), now.Format(time.RFC3339), d.ID)
		if err != nil {
			log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record max_retries_exceeded")
			return
		}
		if err := w.store.IncrementFailureCount(w.ctx, d.WebhookID); err != nil {
			log.Error().Err(err).Str("webhook_id", d.WebhookID).Msg("failed to increment failure count")
		}
		log.Warn().Str("delivery_id", d.ID).Str("webhook_id", d.WebhookID).Int("attempts", attempt).
			Msg("webhook delivery exceeded retry schedule")
		return
	}

	nextRetry := now.Add(retrySchedule[attempt-1])
	_, err := w.db.ExecContext(w.ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', attempt_count = ?, response_status_code = ?,
		    response_body = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ?
	`, attempt, nullableInt(statusCode), nullableString(body, errMsg), nextRetry.Format(time.RFC3339),
		now.Format(time.RFC3339), d.ID)
	if err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to schedule retry")
		return
	}
	log.Debug().Str("delivery_id", d.ID).Int("attempt", attempt).Time("next_retry", nextRetry).
		Msg("scheduled webhook retry")
}

func (w *Worker) markPermanentFailure(d Delivery, statusCode int, body []byte) {
	now := time.Now().UTC()
	_, err := w.db.ExecContext(w.ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', attempt_count = ?, response_status_code = ?, response_body = ?, updated_at = ?
		WHERE id = ?
	`, d.AttemptCount+1, statusCode, string(body), now.Format(time.RFC3339), d.ID)
	if err != nil {
		log.Error().Err(err).Str("delivery_id", d.ID).Msg("failed to record permanent failure")
		return
	}
	if err := w.store.IncrementFailureCount(w.ctx, d.WebhookID); err != nil {
		log.Error().Err(err).Str("webhook_id", d.WebhookID).Msg("failed to increment failure count")
	}
	log.Warn().Str("delivery_id", d.ID).Str("webhook_id", d.WebhookID).Int("status", statusCode).
		Msg("webhook delivery permanently failed")
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(body, fallback string) any {
	if body != "" {
		return body
	}
	if fallback != "" {
		return fallback
	}
	return nil
}

// BuildPayload assembles the canonical JSON delivery body.
func BuildPayload(eventID, eventType string, timestamp time.Time, data map[string]any, evtCtx *EventContext) ([]byte, error) {
	p := Payload{
		EventID:   eventID,
		EventType: eventType,
		Timestamp: timestamp.UTC().Format(time.RFC3339),
		Data:      data,
		Context:   evtCtx,
	}
	return json.Marshal(p)
}
