package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/webhooks"
)

// Dispatcher fans one domain event out to matching webhook subscriptions
// and, optionally, to a set of preference-gated human notifications.
type Dispatcher struct {
	webhookStore *webhooks.Store
	webhookQueue *webhooks.Worker
	emails       *EmailStore
	preferences  *PreferenceStore
}

func NewDispatcher(webhookStore *webhooks.Store, webhookQueue *webhooks.Worker, emails *EmailStore, preferences *PreferenceStore) *Dispatcher {
	return &Dispatcher{webhookStore: webhookStore, webhookQueue: webhookQueue, emails: emails, preferences: preferences}
}

// Dispatch builds the canonical event payload, enqueues a delivery for
// every matching webhook subscription, and enqueues any accompanying
// human-facing emails subject to recipient preferences (security-class
// notifications always send).
func (d *Dispatcher) Dispatch(ctx context.Context, eventType, originatingUserID string, data map[string]any, evtCtx *webhooks.EventContext, emailNotifications ...EmailNotification) error {
	eventID := uuid.New().String()
	timestamp := time.Now().UTC()

	payload, err := webhooks.BuildPayload(eventID, eventType, timestamp, data, evtCtx)
	if err != nil {
		return fmt.Errorf("building event payload: %w", err)
	}

	matched, err := d.webhookStore.FindMatchingWebhooks(ctx, eventType, originatingUserID)
	if err != nil {
		return fmt.Errorf("finding matching webhooks: %w", err)
	}
	for _, wh := range matched {
		if _, err := d.webhookQueue.EnqueueDelivery(ctx, wh.ID, eventType, payload); err != nil {
			log.Error().Err(err).Str("webhook_id", wh.ID).Str("event_type", eventType).Msg("failed to enqueue webhook delivery")
		}
	}

	for _, email := range emailNotifications {
		if err := d.dispatchEmail(ctx, email); err != nil {
			log.Error().Err(err).Str("event_type", eventType).Str("to", email.ToEmail).Msg("failed to enqueue notification email")
		}
	}

	return nil
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, n EmailNotification) error {
	if n.RecipientUserID != "" {
		prefs, err := d.preferences.Get(ctx, n.RecipientUserID)
		if err != nil {
			return err
		}
		if !prefs.allows(n.Category) {
			return nil
		}
	}

	_, err := d.emails.Enqueue(ctx, n.ToEmail, n.Subject, n.BodyText, n.BodyHTML, n.EmailType)
	return err
}
