package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Envelope is the unit read from the feed. When To is set the event is
// unicast to every session of that user, otherwise it is broadcast.
type Envelope struct {
	To   string          `json:"to,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventType is the closed set of event kinds the relay knows how to shape.
type EventType string

const (
	EventVideoView    EventType = "video:view"
	EventVideoLike    EventType = "video:like"
	EventVideoComment EventType = "video:comment"
	EventNotification EventType = "notification"
)

// ParseEventType maps a wire-level type string onto the closed enum.
// The second return value is false for unrecognized types.
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventVideoView, EventVideoLike, EventVideoComment, EventNotification:
		return EventType(s), true
	default:
		return "", false
	}
}

// message is the frame delivered to sessions: the event name plus its
// shaped payload.
type message struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type viewPayload struct {
	VideoID        string `json:"videoID"`
	TotalViewCount int64  `json:"totalViewCount"`
}

type likePayload struct {
	VideoID        string `json:"videoID"`
	TotalLikeCount int64  `json:"totalLikeCount"`
	HasLiked       bool   `json:"hasLiked"`
	UserID         string `json:"userID"`
	Username       string `json:"username"`
}

type commentPayload struct {
	VideoID string          `json:"videoID"`
	Comment json.RawMessage `json:"comment"`
}

// shape rebuilds the envelope data as the outbound payload for the given
// event type. Each rule is a pure projection: only allow-listed fields
// survive, nothing else passes through.
func shape(eventType EventType, data json.RawMessage, clock clockwork.Clock) (json.RawMessage, error) {
	switch eventType {
	case EventVideoView:
		return reencode[viewPayload](data)
	case EventVideoLike:
		return reencode[likePayload](data)
	case EventVideoComment:
		return reencode[commentPayload](data)
	case EventNotification:
		return shapeNotification(data, clock)
	default:
		return nil, fmt.Errorf("unrecognized event type %q", eventType)
	}
}

// reencode round-trips data through T, dropping every field T does not name.
func reencode[T any](data json.RawMessage) (json.RawMessage, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	shaped, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return shaped, nil
}

// shapeNotification forwards every field verbatim and defaults createdAt to
// the current time when the producer did not supply one.
func shapeNotification(data json.RawMessage, clock clockwork.Clock) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	if _, ok := fields["createdAt"]; !ok {
		createdAt, err := json.Marshal(clock.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return nil, err
		}
		fields["createdAt"] = createdAt
	}

	shaped, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return shaped, nil
}
