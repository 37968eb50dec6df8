package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/database"
)

const maxEmailAttempts = 5

// emailRetrySchedule mirrors the webhook subsystem's backoff shape at a
// shorter scale: transient SMTP failures shouldn't wait a day to retry.
var emailRetrySchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// EmailStore persists queued outbound email.
type EmailStore struct {
	db *database.DB
}

func NewEmailStore(db *database.DB) *EmailStore {
	return &EmailStore{db: db}
}

// Enqueue inserts a pending row, due immediately.
func (s *EmailStore) Enqueue(ctx context.Context, toEmail, subject, bodyText, bodyHTML, emailType string) (*QueuedEmail, error) {
	now := time.Now().UTC()
	email := &QueuedEmail{
		ID:          uuid.New().String(),
		ToEmail:     toEmail,
		Subject:     subject,
		BodyText:    bodyText,
		BodyHTML:    bodyHTML,
		EmailType:   emailType,
		Status:      "pending",
		NextRetryAt: &now,
		CreatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_queue (id, to_email, subject, body_text, body_html, email_type, status, attempt_count, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?)`,
		email.ID, email.ToEmail, email.Subject, email.BodyText, email.BodyHTML, email.EmailType,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("enqueueing email: %w", err)
	}
	return email, nil
}

// Sender delivers one queued email over a real transport. The shipped
// implementation (LogSender) only records that delivery would happen;
// wiring an SMTP client is out of scope — see Non-goals.
type Sender interface {
	Send(ctx context.Context, email *QueuedEmail) error
}

// LogSender is the default Sender: it logs the send and always
// succeeds, so the queue can be exercised end-to-end without a real
// mail transport configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, email *QueuedEmail) error {
	log.Info().Str("to", email.ToEmail).Str("type", email.EmailType).Str("subject", email.Subject).
		Msg("email queued for delivery (no SMTP transport configured)")
	return nil
}

// Worker polls email_queue for due rows and hands them to a Sender.
type Worker struct {
	db     *database.DB
	sender Sender
	cfg    config.SMTPConfig
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(db *database.DB, sender Sender, cfg config.SMTPConfig) *Worker {
	if sender == nil {
		sender = LogSender{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{db: db, sender: sender, cfg: cfg, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (w *Worker) Start() {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	log.Info().Dur("poll_interval", interval).Msg("Starting email queue worker")
	go w.run(interval)
}

func (w *Worker) Stop() {
	log.Info().Msg("Stopping email queue worker")
	w.cancel()
	<-w.done
}

func (w *Worker) run(interval time.Duration) {
	defer close(w.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.processDue(); err != nil {
				log.Error().Err(err).Msg("Error processing email queue")
			}
		}
	}
}

func (w *Worker) processDue() error {
	rows, err := w.db.QueryContext(w.ctx, `
		SELECT id, to_email, subject, body_text, body_html, email_type, status, attempt_count, error_message, next_retry_at, sent_at, created_at
		FROM email_queue
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT 50`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("querying due emails: %w", err)
	}
	defer rows.Close()

	var due []*QueuedEmail
	for rows.Next() {
		e, err := scanQueuedEmail(rows)
		if err != nil {
			return err
		}
		due = append(due, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating email rows: %w", err)
	}

	for _, e := range due {
		w.attempt(e)
	}
	return nil
}

func (w *Worker) attempt(e *QueuedEmail) {
	if err := w.sender.Send(w.ctx, e); err != nil {
		w.handleFailure(e, err)
		return
	}
	w.markSent(e)
}

func (w *Worker) markSent(e *QueuedEmail) {
	now := time.Now().UTC()
	_, err := w.db.ExecContext(w.ctx, `
		UPDATE email_queue SET status = 'sent', sent_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), e.ID)
	if err != nil {
		log.Error().Err(err).Str("email_id", e.ID).Msg("failed to record sent email")
	}
}

func (w *Worker) handleFailure(e *QueuedEmail, sendErr error) {
	attempt := e.AttemptCount + 1
	now := time.Now().UTC()

	if attempt >= maxEmailAttempts {
		_, err := w.db.ExecContext(w.ctx, `
			UPDATE email_queue SET status = 'failed', attempt_count = ?, error_message = ?, next_retry_at = NULL WHERE id = ?`,
			attempt, sendErr.Error(), e.ID)
		if err != nil {
			log.Error().Err(err).Str("email_id", e.ID).Msg("failed to record failed email")
		}
		log.Warn().Str("email_id", e.ID).Int("attempts", attempt).Msg("email delivery exceeded retry schedule")
		return
	}

	delay := emailRetrySchedule[attempt-1]
	nextRetry := now.Add(delay)
	_, err := w.db.ExecContext(w.ctx, `
		UPDATE email_queue SET attempt_count = ?, error_message = ?, next_retry_at = ? WHERE id = ?`,
		attempt, sendErr.Error(), nextRetry.Format(time.RFC3339), e.ID)
	if err != nil {
		log.Error().Err(err).Str("email_id", e.ID).Msg("failed to schedule email retry")
	}
}

func scanQueuedEmail(rows *sql.Rows) (*QueuedEmail, error) {
	e := &QueuedEmail{}
	var status, createdAt string
	var errorMessage, nextRetryAt, sentAt sql.NullString

	err := rows.Scan(&e.ID, &e.ToEmail, &e.Subject, &e.BodyText, &e.BodyHTML, &e.EmailType,
		&status, &e.AttemptCount, &errorMessage, &nextRetryAt, &sentAt, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scanning queued email: %w", err)
	}

	e.Status = status
	e.ErrorMessage = errorMessage.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if nextRetryAt.Valid {
		t, _ := time.Parse(time.RFC3339, nextRetryAt.String)
		e.NextRetryAt = &t
	}
	if sentAt.Valid {
		t, _ := time.Parse(time.RFC3339, sentAt.String)
		e.SentAt = &t
	}
	return e, nil
}
