package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/Kitiphol/TokTik/internal/metrics"
)

// Router decides per envelope whether to unicast or broadcast and shapes the
// payload before fan-out. It holds no state of its own; the registry is the
// single source of truth for who is online right now.
type Router struct {
	registry *Registry
	clock    clockwork.Clock
}

func NewRouter(registry *Registry, clock clockwork.Clock) *Router {
	return &Router{registry: registry, clock: clock}
}

// Route delivers one envelope to the sessions it targets. All failure modes
// are terminal for this envelope only: unrecognized types and malformed
// payloads are dropped with a log line, an offline target is a normal no-op,
// and a failed send evicts that one session without touching its siblings.
func (r *Router) Route(envelope Envelope) {
	eventType, ok := ParseEventType(envelope.Type)
	if !ok {
		slog.Warn("Dropping event with unrecognized type", "type", envelope.Type)
		metrics.EventsRouted.WithLabelValues(envelope.Type, metrics.OutcomeUnknownType).Inc()
		return
	}

	shaped, err := shape(eventType, envelope.Data, r.clock)
	if err != nil {
		slog.Warn("Dropping event with malformed payload", "type", envelope.Type, "error", err)
		metrics.EventsRouted.WithLabelValues(envelope.Type, metrics.OutcomeMalformed).Inc()
		return
	}

	frame, err := json.Marshal(message{Event: eventType, Data: shaped})
	if err != nil {
		slog.Error("Failed to marshal outbound frame", "type", envelope.Type, "error", err)
		return
	}

	var targets []*Session
	if envelope.To != "" {
		targets = r.registry.SessionsFor(envelope.To)
		if len(targets) == 0 {
			slog.Debug("Target user offline, dropping event", "user_id", envelope.To, "type", envelope.Type)
			metrics.EventsRouted.WithLabelValues(envelope.Type, metrics.OutcomeOffline).Inc()
			return
		}
	} else {
		targets = r.registry.AllSessions()
	}

	for _, session := range targets {
		if session.Send(frame) {
			metrics.Deliveries.Inc()
			continue
		}
		// Buffer full or session already closing. Evict it and move on;
		// the remaining sessions still get their delivery.
		slog.Warn("Evicting slow session", "user_id", session.UserID(), "session_id", session.ID().String())
		metrics.SlowSessionsEvicted.Inc()
		r.registry.Remove(session)
	}

	metrics.EventsRouted.WithLabelValues(envelope.Type, metrics.OutcomeDelivered).Inc()
}
