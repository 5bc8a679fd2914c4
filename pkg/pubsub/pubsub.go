// Package pubsub defines the topic transport a presence channel rides on.
//
// A subscription to a topic delivers three kinds of events: the complete
// presence set whenever it changes, the presences that dropped, and named
// broadcasts from other subscribers. Broadcasts are at-most-once, ordered per
// sender and never echoed back to the sender.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
)

// Presence is one tracked subscriber on a topic.
type Presence struct {
	// Key identifies the subscription that tracked the presence.
	Key  string          `json:"key"`
	Meta json.RawMessage `json:"meta"`
}

type EventType int

const (
	// EventStatus reports a change of the subscription status.
	EventStatus EventType = iota
	// EventPresenceSync carries the complete presence set.
	EventPresenceSync
	// EventPresenceLeave carries the presences that dropped.
	EventPresenceLeave
	// EventBroadcast carries a named payload from another subscriber.
	EventBroadcast
)

func (t EventType) String() string {
	switch t {
	case EventStatus:
		return "status"
	case EventPresenceSync:
		return "presence_sync"
	case EventPresenceLeave:
		return "presence_leave"
	case EventBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

type Status int

const (
	// StatusSubscribed is reported after every successful (re)subscription.
	// Presence must be tracked again after it.
	StatusSubscribed Status = iota
	// StatusClosed is reported when the transport drops the subscription.
	// It is not reported after Unsubscribe.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Type      EventType
	Status    Status
	Presences []Presence
	Name      string
	Payload   json.RawMessage
}

// Handler receives the events of one subscription, one at a time.
type Handler func(Event)

// Transport opens subscriptions to named topics.
type Transport interface {
	// Subscribe returns once the subscription is live.
	// handler is wired before any event can be delivered.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)
}

type Subscription interface {
	// Key identifies this subscription in presence sets.
	Key() string
	// Track announces meta as this subscription's presence, replacing any earlier meta.
	Track(ctx context.Context, meta json.RawMessage) error
	// Broadcast sends payload to the other subscribers of the topic.
	Broadcast(ctx context.Context, name string, payload json.RawMessage) error
	// Unsubscribe drops presence and releases the topic. It is idempotent.
	Unsubscribe(ctx context.Context) error
}

var (
	// ErrUnsubscribed is returned by Track and Broadcast after Unsubscribe.
	ErrUnsubscribed = errors.New("subscription is closed")
	// ErrTopicFull is returned by Subscribe when a topic reached its subscriber limit.
	ErrTopicFull = errors.New("topic is full")
)
