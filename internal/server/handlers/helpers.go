package handlers

import (
	"context"
	"net/http"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/notify"
	"github.com/relay-onprem/control-plane/internal/principal"
	"github.com/relay-onprem/control-plane/internal/webhooks"
)

// verifyPassword adapts cryptoutil.VerifyPassword's error return to the
// authz.PasswordVerifier predicate shape every access check uses.
func verifyPassword(presented, stored string) bool {
	return cryptoutil.VerifyPassword(presented, stored) == nil
}

// logAudit writes an audit row and logs rather than fails the request if
// the write itself errors — the HTTP response reflects the mutation that
// already committed, not the audit trail's own health.
func logAudit(ctx context.Context, store *audit.Store, action audit.Action, actorUserID, targetUserID, targetShareID string, details map[string]any, ipAddress, userAgent string) {
	if err := store.Log(ctx, action, actorUserID, targetUserID, targetShareID, details, ipAddress, userAgent); err != nil {
		log.Error().Err(err).Str("action", string(action)).Msg("failed to write audit log entry")
	}
}

func principalFromRequest(r *http.Request) (*identity.User, bool) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		return nil, false
	}
	return p.User, true
}

func principalAndSessionFromRequest(r *http.Request) (*identity.User, string, bool) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		return nil, "", false
	}
	return p.User, p.SessionID, true
}

// logDispatch fans a domain event out via the notification dispatcher,
// logging rather than failing the request if the fanout itself errors.
func logDispatch(ctx context.Context, d *notify.Dispatcher, eventType, originatingUserID string, data map[string]any, evtCtx *webhooks.EventContext, emails ...notify.EmailNotification) {
	if err := d.Dispatch(ctx, eventType, originatingUserID, data, evtCtx, emails...); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to dispatch notification")
	}
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func isUUID(s string) bool {
	return uuidPattern.MatchString(s)
}
