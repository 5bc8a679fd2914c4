// Package memory is an in-process pub/sub hub.
// The relay server fronts one for remote clients; tests and local play use it directly.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/queue"
)

const (
	// DefaultMailboxSize is how many undelivered events a subscriber may hold before new ones are dropped.
	DefaultMailboxSize = 256
)

var _ pubsub.Transport = &Hub{}

// Hub routes events between the subscribers of each topic.
type Hub struct {
	lock           sync.Mutex
	topics         map[string]*topic
	seq            uint64
	maxSubscribers int
	mailboxSize    int
}

type topic struct {
	name string
	subs map[string]*Subscription
}

type NewHubOptions struct {
	// MaxSubscribers caps subscribers per topic. Zero means no cap.
	MaxSubscribers int
	// MailboxSize defaults to DefaultMailboxSize.
	MailboxSize int
}

func NewHub(opts NewHubOptions) *Hub {
	mailboxSize := opts.MailboxSize
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}
	return &Hub{
		topics:         make(map[string]*topic),
		maxSubscribers: opts.MaxSubscribers,
		mailboxSize:    mailboxSize,
	}
}

// Subscribe joins topic. The new subscriber immediately receives the current presence set.
func (h *Hub) Subscribe(ctx context.Context, name string, handler pubsub.Handler) (pubsub.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	t, ok := h.topics[name]
	if !ok {
		t = &topic{
			name: name,
			subs: make(map[string]*Subscription),
		}
		h.topics[name] = t
	}
	if h.maxSubscribers > 0 && len(t.subs) >= h.maxSubscribers {
		return nil, pubsub.ErrTopicFull
	}

	h.seq++
	deliveryCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		hub:     h,
		topic:   name,
		key:     uuid.NewString(),
		seq:     h.seq,
		handler: handler,
		mailbox: queue.NewInMemoryQueue(h.mailboxSize),
		cancel:  cancel,
	}
	t.subs[sub.key] = sub
	go sub.deliver(deliveryCtx)

	sub.send(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: t.presences()})
	log.Trace("Subscription %s joined topic %s", sub.key, name)

	return sub, nil
}

// Subscribers returns the number of live subscriptions to topic.
func (h *Hub) Subscribers(name string) int {
	h.lock.Lock()
	defer h.lock.Unlock()
	if t, ok := h.topics[name]; ok {
		return len(t.subs)
	}
	return 0
}

// Disconnect drops a subscription as if its connection was lost:
// the others see it leave and the subscriber itself is told the subscription closed.
func (h *Hub) Disconnect(key string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for _, t := range h.topics {
		sub, ok := t.subs[key]
		if !ok {
			continue
		}
		h.remove(t, sub)
		sub.mailbox.ClearQueue()
		sub.send(pubsub.Event{Type: pubsub.EventStatus, Status: pubsub.StatusClosed})
		return
	}
}

// remove must be called with the lock held.
func (h *Hub) remove(t *topic, sub *Subscription) {
	delete(t.subs, sub.key)
	sub.closed = true

	if sub.meta != nil {
		left := []pubsub.Presence{{Key: sub.key, Meta: sub.meta}}
		presences := t.presences()
		for _, other := range t.subs {
			other.send(pubsub.Event{Type: pubsub.EventPresenceLeave, Presences: left})
			other.send(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: presences})
		}
	}

	if len(t.subs) == 0 {
		delete(h.topics, t.name)
	}
	log.Trace("Subscription %s left topic %s", sub.key, t.name)
}

// presences returns the tracked presences in subscription order.
// It must be called with the hub lock held.
func (t *topic) presences() []pubsub.Presence {
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		if sub.meta != nil {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].seq < subs[j].seq
	})

	presences := make([]pubsub.Presence, 0, len(subs))
	for _, sub := range subs {
		presences = append(presences, pubsub.Presence{Key: sub.key, Meta: sub.meta})
	}
	return presences
}

var _ pubsub.Subscription = &Subscription{}

type Subscription struct {
	hub     *Hub
	topic   string
	key     string
	seq     uint64
	handler pubsub.Handler
	mailbox *queue.InMemoryQueue
	cancel  context.CancelFunc

	// guarded by hub.lock
	meta   json.RawMessage
	closed bool
}

func (s *Subscription) Key() string {
	return s.key
}

func (s *Subscription) Track(ctx context.Context, meta json.RawMessage) error {
	s.hub.lock.Lock()
	defer s.hub.lock.Unlock()

	if s.closed {
		return pubsub.ErrUnsubscribed
	}
	s.meta = append(json.RawMessage(nil), meta...)

	t := s.hub.topics[s.topic]
	presences := t.presences()
	for _, sub := range t.subs {
		sub.send(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: presences})
	}
	return nil
}

func (s *Subscription) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	s.hub.lock.Lock()
	defer s.hub.lock.Unlock()

	if s.closed {
		return pubsub.ErrUnsubscribed
	}
	payload = append(json.RawMessage(nil), payload...)

	t := s.hub.topics[s.topic]
	for key, sub := range t.subs {
		if key == s.key {
			continue
		}
		sub.send(pubsub.Event{Type: pubsub.EventBroadcast, Name: name, Payload: payload})
	}
	return nil
}

func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.hub.lock.Lock()
	defer s.hub.lock.Unlock()

	if s.closed {
		return nil
	}
	if t, ok := s.hub.topics[s.topic]; ok {
		s.hub.remove(t, s)
	}
	s.mailbox.Close()
	s.cancel()
	return nil
}

// send queues an event without blocking; a full mailbox drops it.
func (s *Subscription) send(event pubsub.Event) {
	if err := s.mailbox.Enqueue(event); err != nil {
		log.Warn("Dropping %s event for subscription %s on %s: %v", event.Type, s.key, s.topic, err)
	}
}

func (s *Subscription) deliver(ctx context.Context) {
	defer s.cancel()
	for {
		item, err := s.mailbox.Dequeue(ctx)
		if err != nil {
			return
		}
		event := item.(pubsub.Event)
		s.handler(event)
		if event.Type == pubsub.EventStatus && event.Status == pubsub.StatusClosed {
			s.mailbox.Close()
			return
		}
	}
}
