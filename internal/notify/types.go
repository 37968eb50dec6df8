// Package notify implements the notification dispatcher (C11): fanning
// one domain event out to matching webhooks (C10) and, for events that
// also reach a human, a gated entry in the email queue.
package notify

import "time"

// Category is the email-preference bucket a notification belongs to.
// SecurityAlert notifications bypass preferences entirely.
type Category string

const (
	CategoryInvite       Category = "invite_notifications"
	CategoryShareUpdate  Category = "share_update_notifications"
	CategoryMember       Category = "member_notifications"
	CategorySecurityAlert Category = "security_alerts"
	CategoryDigest       Category = "digest_emails"
)

// Preferences is a user's opt-in/opt-out state per category.
// SecurityAlerts is carried for completeness but Dispatch always sends
// that category regardless of its value, per spec.
type Preferences struct {
	InviteNotifications      bool
	ShareUpdateNotifications bool
	MemberNotifications      bool
	SecurityAlerts           bool
	DigestEmails             bool
}

// DefaultPreferences matches the schema's column defaults: everything
// on except the digest.
func DefaultPreferences() Preferences {
	return Preferences{
		InviteNotifications:      true,
		ShareUpdateNotifications: true,
		MemberNotifications:      true,
		SecurityAlerts:           true,
		DigestEmails:             false,
	}
}

func (p Preferences) allows(category Category) bool {
	switch category {
	case CategoryInvite:
		return p.InviteNotifications
	case CategoryShareUpdate:
		return p.ShareUpdateNotifications
	case CategoryMember:
		return p.MemberNotifications
	case CategorySecurityAlert:
		return true // security mail always goes out
	case CategoryDigest:
		return p.DigestEmails
	default:
		return true
	}
}

// EmailNotification is one human-facing email a domain event may also
// want to send, alongside its webhook fanout.
type EmailNotification struct {
	// RecipientUserID gates the send against that user's preferences.
	// Leave empty when mailing an address with no account yet (e.g. an
	// invite sent to an external email) — those always go out.
	RecipientUserID string
	ToEmail         string
	Category        Category
	Subject         string
	BodyText        string
	BodyHTML        string
	EmailType       string
}

// QueuedEmail mirrors the email_queue row shape.
type QueuedEmail struct {
	ID           string
	ToEmail      string
	Subject      string
	BodyText     string
	BodyHTML     string
	EmailType    string
	Status       string
	AttemptCount int
	ErrorMessage string
	NextRetryAt  *time.Time
	SentAt       *time.Time
	CreatedAt    time.Time
}
