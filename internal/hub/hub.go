package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthchat/hearth/internal/pubsub"
)

// TopicBroadcast is the single bus topic carrying every hub event. The
// concrete event type travels in message metadata so each subscriber sees
// the full stream and filters for itself.
const TopicBroadcast = "hub.broadcast"

const metaKeyEventType = "event_type"

// DefaultSubscriberSoftCap is the subscriber count above which the hub
// starts logging warnings. It guards against subscription leaks; it never
// rejects a subscriber.
const DefaultSubscriberSoftCap = 1024

// EventType tags a broadcast event for client-side dispatch.
type EventType string

const (
	EventChatMessage      EventType = "chatMessage"
	EventBuddyListUpdate  EventType = "buddyListUpdate"
	EventUserStatusUpdate EventType = "userStatusUpdate"
)

// Event is a single fan-out unit: a type tag plus its JSON payload.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler consumes one event. Delivery is at-least-once and handlers for one
// subscription run sequentially; a slow handler delays its own stream, so
// handlers should enqueue work rather than block.
type Handler func(event Event)

// Subscription is the handle returned by Subscribe. Unsubscribing it twice
// is a no-op.
type Subscription struct {
	cancel context.CancelFunc
	once   sync.Once
	hub    *Hub
}

// Hub is the process-wide broadcast bus: every emitted event is delivered to
// every live subscription. It is a typed façade over the watermill bridge
// with an explicit lifecycle — created at process start, shut down on drain.
type Hub struct {
	publisher  pubsub.Publisher
	subscriber pubsub.Subscriber
	logger     *slog.Logger

	mu      sync.Mutex
	subs    int
	softCap int
}

// Option configures a Hub.
type Option func(*Hub)

// WithSubscriberSoftCap overrides the subscriber count warning threshold.
func WithSubscriberSoftCap(n int) Option {
	return func(h *Hub) {
		h.softCap = n
	}
}

// New creates a Hub on top of the given pub/sub bridge.
func New(publisher pubsub.Publisher, subscriber pubsub.Subscriber, opts ...Option) *Hub {
	h := &Hub{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     slog.Default().With("service", "hub"),
		softCap:    DefaultSubscriberSoftCap,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Emit broadcasts one event to every current subscription. The payload is
// marshaled to JSON here so all subscribers share one serialization.
func (h *Hub) Emit(ctx context.Context, eventType EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return h.publisher.Publish(ctx, pubsub.Message{
		Topic:   TopicBroadcast,
		Payload: data,
		Metadata: map[string]string{
			metaKeyEventType: string(eventType),
		},
	})
}

// Subscribe registers a handler for every subsequent event and returns its
// subscription handle. The handler keeps receiving until Unsubscribe.
func (h *Hub) Subscribe(handler Handler) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	err := h.subscriber.Subscribe(ctx, TopicBroadcast, func(ctx context.Context, msg pubsub.Message) error {
		handler(Event{
			Type:    EventType(msg.Metadata[metaKeyEventType]),
			Payload: msg.Payload,
		})
		return nil
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", TopicBroadcast, err)
	}

	h.mu.Lock()
	h.subs++
	count := h.subs
	h.mu.Unlock()

	if count > h.softCap {
		h.logger.Warn("Subscriber count exceeds soft cap, possible subscription leak",
			"subscribers", count,
			"soft_cap", h.softCap)
	} else {
		h.logger.Debug("New subscriber registered", "subscribers", count)
	}

	return &Subscription{cancel: cancel, hub: h}, nil
}

// Unsubscribe detaches a subscription. A nil subscription or a second
// unsubscribe is a no-op; other subscribers are unaffected.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		sub.cancel()
		h.mu.Lock()
		h.subs--
		count := h.subs
		h.mu.Unlock()
		h.logger.Debug("Subscriber unregistered", "subscribers", count)
	})
}

// Subscribers returns the current subscription count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs
}

// Shutdown closes the underlying bridge, ending every subscription's
// delivery loop.
func (h *Hub) Shutdown() error {
	return h.publisher.Close()
}
