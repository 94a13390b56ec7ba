// Package events publishes domain events to a JetStream stream for the chat
// front-end. Events are notifications, not coordination: the store is the
// single source of truth and a lost event never corrupts game state.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	streamName    = "BINGO_EVENTS"
	subjectPrefix = "bingo.events"
)

// Event is the envelope published on bingo.events.<room>.<type>.
type Event struct {
	Type    EventType       `json:"event_type"`
	RoomID  string          `json:"room_id"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher emits domain events. The coordinator treats publish failures as
// log-and-continue.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, roomID string, payload any) error
}

// JetStreamPublisher publishes onto the BINGO_EVENTS stream.
type JetStreamPublisher struct {
	js jetstream.JetStream
}

// NewJetStreamPublisher ensures the stream exists and returns a publisher.
func NewJetStreamPublisher(ctx context.Context, js jetstream.JetStream) (*JetStreamPublisher, error) {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}
	return &JetStreamPublisher{js: js}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, eventType EventType, roomID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	event := Event{
		Type:    eventType,
		RoomID:  roomID,
		At:      time.Now().UTC(),
		Payload: raw,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, roomID, eventType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	log.Debug().Str("subject", subject).Str("room_id", roomID).Msg("event published")
	return nil
}

// NopPublisher discards events; used in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, eventType EventType, roomID string, payload any) error {
	return nil
}
