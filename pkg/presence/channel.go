// Package presence binds a room to its pub/sub topic.
//
// A Channel tracks who is connected to a room and carries the two broadcast
// classes a room uses: state snapshots from the host and actions from the guest.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/observer"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
)

const (
	// retrackTimeout bounds the presence announcement issued after a resubscription.
	retrackTimeout = 10 * time.Second
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Entry is the presence a participant announces on the room topic.
type Entry struct {
	Role        Role   `json:"role"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// EventClass names one of the broadcast streams multiplexed on a room topic.
type EventClass string

const (
	EventState       EventClass = "state"
	EventGuestAction EventClass = "guest_action"
)

// Envelope is the broadcast body on the wire.
type Envelope struct {
	Type    EventClass      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var (
	ErrAlreadySubscribed = errors.New("channel is already subscribed")
	ErrLeft              = errors.New("channel has been left")
)

// Topic returns the pub/sub topic of a room.
func Topic(roomID string) string {
	return "room:" + roomID
}

// FindRole returns the first entry with the given role.
func FindRole(entries []Entry, role Role) (Entry, bool) {
	for _, entry := range entries {
		if entry.Role == role {
			return entry, true
		}
	}
	return Entry{}, false
}

type Channel struct {
	topic string

	lock    sync.Mutex
	sub     pubsub.Subscription
	tracked *Entry
	left    bool

	syncs      *observer.Registry[[]Entry]
	leaves     *observer.Registry[[]Entry]
	statuses   *observer.Registry[pubsub.Status]
	broadcasts map[EventClass]*observer.Registry[json.RawMessage]
}

// NewChannel creates an unsubscribed channel for a room.
// Listeners registered before Subscribe see every event of the subscription.
func NewChannel(roomID string) *Channel {
	return &Channel{
		topic:    Topic(roomID),
		syncs:    observer.NewRegistry[[]Entry](),
		leaves:   observer.NewRegistry[[]Entry](),
		statuses: observer.NewRegistry[pubsub.Status](),
		broadcasts: map[EventClass]*observer.Registry[json.RawMessage]{
			EventState:       observer.NewRegistry[json.RawMessage](),
			EventGuestAction: observer.NewRegistry[json.RawMessage](),
		},
	}
}

func (c *Channel) Topic() string {
	return c.topic
}

// Subscribe opens the channel on transport. A presence passed to Track earlier is announced once subscribed.
func (c *Channel) Subscribe(ctx context.Context, transport pubsub.Transport) error {
	c.lock.Lock()
	if c.left {
		c.lock.Unlock()
		return ErrLeft
	}
	if c.sub != nil {
		c.lock.Unlock()
		return ErrAlreadySubscribed
	}
	c.lock.Unlock()

	sub, err := transport.Subscribe(ctx, c.topic, c.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %v", c.topic, err)
	}

	c.lock.Lock()
	if c.left {
		c.lock.Unlock()
		if err := sub.Unsubscribe(ctx); err != nil {
			log.Warn("Failed to unsubscribe from %s: %v", c.topic, err)
		}
		return ErrLeft
	}
	c.sub = sub
	tracked := c.tracked
	c.lock.Unlock()

	if tracked != nil {
		c.track(ctx, sub, *tracked)
	}
	log.Debug("Subscribed to %s as %s", c.topic, sub.Key())
	return nil
}

// Track announces entry as the local presence. It is announced again after every resubscription.
// Transport failures are logged, not returned.
func (c *Channel) Track(ctx context.Context, entry Entry) {
	c.lock.Lock()
	if c.left {
		c.lock.Unlock()
		return
	}
	c.tracked = &entry
	sub := c.sub
	c.lock.Unlock()

	if sub != nil {
		c.track(ctx, sub, entry)
	}
}

func (c *Channel) track(ctx context.Context, sub pubsub.Subscription, entry Entry) {
	meta, err := json.Marshal(entry)
	if err != nil {
		log.Warn("Failed to encode presence for %s: %v", c.topic, err)
		return
	}
	if err := sub.Track(ctx, meta); err != nil {
		log.Warn("Failed to track presence on %s: %v", c.topic, err)
	}
}

// Broadcast sends payload to the other participant. It is a no-op on a channel that is not subscribed.
func (c *Channel) Broadcast(ctx context.Context, class EventClass, payload json.RawMessage) error {
	c.lock.Lock()
	sub := c.sub
	c.lock.Unlock()
	if sub == nil {
		return nil
	}

	body, err := json.Marshal(&Envelope{Type: class, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s broadcast: %v", class, err)
	}
	if err := sub.Broadcast(ctx, string(class), body); err != nil {
		if errors.Is(err, pubsub.ErrUnsubscribed) {
			return nil
		}
		return fmt.Errorf("failed to broadcast %s on %s: %v", class, c.topic, err)
	}
	return nil
}

// Leave unsubscribes and releases the topic. Calls after the first return nil.
func (c *Channel) Leave(ctx context.Context) error {
	c.lock.Lock()
	if c.left {
		c.lock.Unlock()
		return nil
	}
	c.left = true
	sub := c.sub
	c.sub = nil
	c.lock.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		log.Warn("Failed to leave %s: %v", c.topic, err)
		return fmt.Errorf("failed to unsubscribe from %s: %v", c.topic, err)
	}
	log.Debug("Left %s", c.topic)
	return nil
}

// OnPresenceSync registers cb for the complete presence set after every change.
func (c *Channel) OnPresenceSync(cb func([]Entry)) func() {
	return c.syncs.Register(cb)
}

// OnPresenceLeave registers cb for the entries that dropped.
func (c *Channel) OnPresenceLeave(cb func([]Entry)) func() {
	return c.leaves.Register(cb)
}

// OnStatus registers cb for subscription status changes reported by the transport.
func (c *Channel) OnStatus(cb func(pubsub.Status)) func() {
	return c.statuses.Register(cb)
}

// OnBroadcast registers cb for the payloads of one broadcast class.
func (c *Channel) OnBroadcast(class EventClass, cb func(json.RawMessage)) func() {
	registry, ok := c.broadcasts[class]
	if !ok {
		log.Warn("Ignoring listener for unknown broadcast class %q", class)
		return func() {}
	}
	return registry.Register(cb)
}

func (c *Channel) handle(event pubsub.Event) {
	switch event.Type {
	case pubsub.EventPresenceSync:
		c.syncs.Notify(c.decodePresences(event.Presences))
	case pubsub.EventPresenceLeave:
		c.leaves.Notify(c.decodePresences(event.Presences))
	case pubsub.EventBroadcast:
		c.handleBroadcast(event)
	case pubsub.EventStatus:
		if event.Status == pubsub.StatusSubscribed {
			go c.retrack()
		}
		c.statuses.Notify(event.Status)
	}
}

func (c *Channel) handleBroadcast(event pubsub.Event) {
	envelope := &Envelope{}
	if err := json.Unmarshal(event.Payload, envelope); err != nil {
		log.Warn("Dropping malformed %s broadcast on %s: %v", event.Name, c.topic, err)
		return
	}
	registry, ok := c.broadcasts[envelope.Type]
	if !ok {
		log.Debug("Dropping broadcast of unknown class %q on %s", envelope.Type, c.topic)
		return
	}
	registry.Notify(envelope.Payload)
}

func (c *Channel) retrack() {
	c.lock.Lock()
	sub := c.sub
	tracked := c.tracked
	c.lock.Unlock()
	if sub == nil || tracked == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), retrackTimeout)
	defer cancel()
	log.Debug("Resubscribed to %s, tracking presence again", c.topic)
	c.track(ctx, sub, *tracked)
}

func (c *Channel) decodePresences(presences []pubsub.Presence) []Entry {
	entries := make([]Entry, 0, len(presences))
	for _, p := range presences {
		var entry Entry
		if err := json.Unmarshal(p.Meta, &entry); err != nil {
			log.Warn("Ignoring malformed presence %s on %s: %v", p.Key, c.topic, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}
