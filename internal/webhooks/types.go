// Package webhooks implements the outbound event-subscription and
// delivery subsystem (C10): subscription CRUD, SSRF-guarded URL
// validation, event matching, HMAC-signed delivery, and the fixed
// six-step retry schedule.
package webhooks

import "time"

// Webhook is a subscription: a URL, signing secret, and the closed set
// of event types it receives. A nil/empty UserID marks an admin/global
// subscription.
type Webhook struct {
	ID           string
	UserID       string // empty string means admin/global
	Name         string
	URL          string
	Secret       string
	Events       []string
	Active       bool
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeliveryStatus is the lifecycle state of one delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryPending           DeliveryStatus = "pending"
	DeliverySuccess           DeliveryStatus = "success"
	DeliveryFailed            DeliveryStatus = "failed"
	DeliveryMaxRetriesExceeded DeliveryStatus = "max_retries_exceeded"
)

// Delivery is one queued/attempted event delivery to a single webhook.
type Delivery struct {
	ID                 string
	WebhookID          string
	EventID            string
	EventType          string
	Payload            string
	Status             DeliveryStatus
	ResponseStatusCode *int
	ResponseBody       string
	AttemptCount       int
	NextRetryAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Actor identifies the human or process that caused a domain event.
type Actor struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// EventContext carries request-scoped metadata about the event origin.
type EventContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Payload is the canonical JSON body sent to subscribers.
type Payload struct {
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	Timestamp string        `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Context   *EventContext `json:"context,omitempty"`
}
