// Package redis carries room topics over Redis pub/sub.
//
// Broadcasts and presence notifications are published on the topic channel.
// The presence set itself lives in the hash presence:<topic>, keyed by
// subscription key. Redis has no last will, so presence of a client that
// vanished without unsubscribing lingers until the hash expires.
//
// The client reconnects on its own. A subscription reports StatusSubscribed
// after every reconnect, and StatusClosed once the server stayed unreachable
// for longer than the reconnect timeout.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
)

const (
	// PresenceTTL is how long a presence hash outlives its last update.
	PresenceTTL = time.Hour
	// channelSize is the buffer between the Redis connection and the event handler.
	channelSize = 256

	// DefaultReconnectTimeout is how long the server may stay unreachable before a subscription is dropped.
	DefaultReconnectTimeout = 30 * time.Second

	fetchTimeout  = 5 * time.Second
	checkInterval = 2 * time.Second
)

type frameType string

const (
	frameBroadcast frameType = "broadcast"
	framePresence  frameType = "presence"
	frameLeave     frameType = "leave"
)

// frame is what gets published on a topic channel.
type frame struct {
	Type      frameType         `json:"type"`
	Sender    string            `json:"sender"`
	Name      string            `json:"name,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Presences []pubsub.Presence `json:"presences,omitempty"`
}

// storedPresence is a presence hash value.
type storedPresence struct {
	Since int64           `json:"since"`
	Meta  json.RawMessage `json:"meta"`
}

// NewClient creates a Redis client from a redis:// URL.
func NewClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %v", err)
	}
	return goredis.NewClient(opts), nil
}

// Ping tests the Redis connection.
func Ping(ctx context.Context, client *goredis.Client) error {
	return client.Ping(ctx).Err()
}

func presenceKey(topic string) string {
	return "presence:" + topic
}

var _ pubsub.Transport = &Transport{}

type Transport struct {
	client           *goredis.Client
	reconnectTimeout time.Duration
}

type NewTransportOptions struct {
	Client *goredis.Client
	// ReconnectTimeout defaults to DefaultReconnectTimeout.
	ReconnectTimeout time.Duration
}

func NewTransport(opts NewTransportOptions) *Transport {
	reconnectTimeout := opts.ReconnectTimeout
	if reconnectTimeout <= 0 {
		reconnectTimeout = DefaultReconnectTimeout
	}
	return &Transport{
		client:           opts.Client,
		reconnectTimeout: reconnectTimeout,
	}
}

// Subscribe returns once Redis confirmed the channel subscription.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler pubsub.Handler) (pubsub.Subscription, error) {
	ps := t.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %v", topic, err)
	}

	sub := &Subscription{
		client:  t.client,
		ps:      ps,
		topic:   topic,
		key:     uuid.NewString(),
		since:   time.Now().UnixNano(),
		handler: handler,
		done:    make(chan struct{}),
	}
	go sub.receive(ps.ChannelWithSubscriptions(context.Background(), channelSize))
	go sub.watch(checkInterval, t.reconnectTimeout)

	log.Debug("Subscribed to %s via redis as %s", topic, sub.key)
	return sub, nil
}

var _ pubsub.Subscription = &Subscription{}

type Subscription struct {
	client  *goredis.Client
	ps      *goredis.PubSub
	topic   string
	key     string
	since   int64
	handler pubsub.Handler
	done    chan struct{}

	lock   sync.Mutex
	meta   json.RawMessage
	closed bool
}

func (s *Subscription) Key() string {
	return s.key
}

func (s *Subscription) Track(ctx context.Context, meta json.RawMessage) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return pubsub.ErrUnsubscribed
	}
	s.meta = append(json.RawMessage(nil), meta...)
	s.lock.Unlock()

	value, err := json.Marshal(&storedPresence{Since: s.since, Meta: meta})
	if err != nil {
		return fmt.Errorf("failed to encode presence: %v", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, presenceKey(s.topic), s.key, value)
	pipe.Expire(ctx, presenceKey(s.topic), PresenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store presence: %v", err)
	}
	return s.publish(ctx, &frame{Type: framePresence, Sender: s.key})
}

func (s *Subscription) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	if s.isClosed() {
		return pubsub.ErrUnsubscribed
	}
	return s.publish(ctx, &frame{Type: frameBroadcast, Sender: s.key, Name: name, Payload: payload})
}

func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	meta := s.meta
	s.lock.Unlock()
	close(s.done)

	if err := s.ps.Close(); err != nil {
		log.Debug("Failed to close redis subscription for %s: %v", s.topic, err)
	}

	if meta == nil {
		return nil
	}
	if err := s.client.HDel(ctx, presenceKey(s.topic), s.key).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %v", err)
	}
	return s.publish(ctx, &frame{
		Type:      frameLeave,
		Sender:    s.key,
		Presences: []pubsub.Presence{{Key: s.key, Meta: meta}},
	})
}

func (s *Subscription) publish(ctx context.Context, f *frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %v", f.Type, err)
	}
	if err := s.client.Publish(ctx, s.topic, b).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %v", s.topic, err)
	}
	return nil
}

// receive delivers events to the handler one at a time until the subscription is closed.
// A channel that ends without Unsubscribe is reported as StatusClosed.
func (s *Subscription) receive(ch <-chan interface{}) {
	s.sync()
	for item := range ch {
		switch msg := item.(type) {
		case *goredis.Subscription:
			// The first confirmation was consumed by Subscribe, so any later one follows a reconnect.
			if msg.Kind == "subscribe" {
				s.handler(pubsub.Event{Type: pubsub.EventStatus, Status: pubsub.StatusSubscribed})
				s.sync()
			}
		case *goredis.Message:
			s.handleFrame(msg.Payload)
		}
	}

	if !s.isClosed() {
		log.Warn("Redis subscription to %s dropped", s.topic)
		s.handler(pubsub.Event{Type: pubsub.EventStatus, Status: pubsub.StatusClosed})
	}
}

// watch pings the server every interval and closes the pub/sub connection once
// the server has been unreachable for timeout, which ends receive.
func (s *Subscription) watch(interval time.Duration, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failingSince time.Time
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		err := s.client.Ping(ctx).Err()
		cancel()
		if err == nil {
			if !failingSince.IsZero() {
				log.Info("Redis reachable again for %s", s.topic)
			}
			failingSince = time.Time{}
			continue
		}

		if failingSince.IsZero() {
			log.Warn("Redis unreachable for %s: %v", s.topic, err)
			failingSince = time.Now()
		}
		if time.Since(failingSince) >= timeout {
			log.Error("Redis unreachable for %v, dropping subscription to %s", timeout, s.topic)
			if err := s.ps.Close(); err != nil {
				log.Debug("Failed to close redis subscription for %s: %v", s.topic, err)
			}
			return
		}
	}
}

func (s *Subscription) handleFrame(payload string) {
	f := &frame{}
	if err := json.Unmarshal([]byte(payload), f); err != nil {
		log.Warn("Dropping malformed frame on %s: %v", s.topic, err)
		return
	}

	switch f.Type {
	case frameBroadcast:
		if f.Sender == s.key {
			return
		}
		s.handler(pubsub.Event{Type: pubsub.EventBroadcast, Name: f.Name, Payload: f.Payload})
	case framePresence:
		s.sync()
	case frameLeave:
		if f.Sender == s.key {
			return
		}
		s.handler(pubsub.Event{Type: pubsub.EventPresenceLeave, Presences: f.Presences})
		s.sync()
	default:
		log.Debug("Ignoring %s frame on %s", f.Type, s.topic)
	}
}

// sync reads the presence hash and hands the complete set to the handler.
func (s *Subscription) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	presences, err := fetchPresences(ctx, s.client, s.topic)
	if err != nil {
		log.Warn("Failed to read presence of %s: %v", s.topic, err)
		return
	}
	s.handler(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: presences})
}

func (s *Subscription) isClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

// fetchPresences returns the presences of topic, oldest first.
func fetchPresences(ctx context.Context, client *goredis.Client, topic string) ([]pubsub.Presence, error) {
	values, err := client.HGetAll(ctx, presenceKey(topic)).Result()
	if err != nil {
		return nil, err
	}

	type entry struct {
		since    int64
		presence pubsub.Presence
	}
	entries := make([]entry, 0, len(values))
	for key, value := range values {
		stored := &storedPresence{}
		if err := json.Unmarshal([]byte(value), stored); err != nil {
			log.Warn("Ignoring malformed presence %s on %s: %v", key, topic, err)
			continue
		}
		entries = append(entries, entry{since: stored.Since, presence: pubsub.Presence{Key: key, Meta: stored.Meta}})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].since == entries[j].since {
			return entries[i].presence.Key < entries[j].presence.Key
		}
		return entries[i].since < entries[j].since
	})

	presences := make([]pubsub.Presence, 0, len(entries))
	for _, e := range entries {
		presences = append(presences, e.presence)
	}
	return presences, nil
}
