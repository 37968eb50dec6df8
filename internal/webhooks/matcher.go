package webhooks

import "context"

// FindMatchingWebhooks returns all active webhooks whose event set
// contains eventType, filtered to (user-owned-by originatingUserID) ∪
// (admin/global). Admin-only events only match admin/global
// subscriptions regardless of originatingUserID.
func (s *Store) FindMatchingWebhooks(ctx context.Context, eventType, originatingUserID string) ([]*Webhook, error) {
	adminOnly := IsAdminOnlyEvent(eventType)

	admin, err := s.ListAdmin(ctx)
	if err != nil {
		return nil, err
	}

	var matched []*Webhook
	for _, wh := range admin {
		if wh.Active && wh.Subscribes(eventType) {
			matched = append(matched, wh)
		}
	}

	if adminOnly || originatingUserID == "" {
		return matched, nil
	}

	owned, err := s.ListForUser(ctx, originatingUserID)
	if err != nil {
		return nil, err
	}
	for _, wh := range owned {
		if wh.Active && wh.Subscribes(eventType) {
			matched = append(matched, wh)
		}
	}

	return matched, nil
}
