// Package relay fans room broadcasts out across service instances. Each node
// publishes every room broadcast tagged with its instance id and delivers
// events from other origins to its own local members. Local fan-out never
// depends on the relay; cross-node ordering is not guaranteed.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coinpulse/chat-service/internal/config"
)

// Event is a broadcast crossing the instance boundary.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Origin    string          `json:"origin"` // publishing instance id
	Exclude   string          `json:"exclude,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent wraps an outbound frame for relay publication.
func NewEvent(eventType, roomID, origin, exclude string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Origin:    origin,
		Exclude:   exclude,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Channel naming. One logical channel per room; the pattern subscription
// covers every room hosted anywhere.
const (
	channelFormat  = "chat:room:%s:events"
	channelPattern = "chat:room:*:events"
)

// RoomChannel returns the relay channel for a room.
func RoomChannel(roomID string) string {
	return fmt.Sprintf(channelFormat, roomID)
}

// Publisher publishes events to the relay.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber receives relay events.
type Subscriber interface {
	SubscribeAll(ctx context.Context) (<-chan *Event, error)
}

// Relay combines both ends plus lifecycle.
type Relay interface {
	Publisher
	Subscriber
	Close() error
}

// New selects a relay backend by driver. Driver "none" returns nil; callers
// treat a nil relay as single-instance operation.
func New(cfg config.RelayConfig) (Relay, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "redis":
		return NewRedisRelay(cfg.Redis)
	case "kafka":
		return NewKafkaRelay(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unsupported relay driver: %s", cfg.Driver)
	}
}
