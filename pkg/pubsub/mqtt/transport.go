// Package mqtt carries room topics over an MQTT broker.
//
// A subscription owns one broker connection. Presence is a retained message
// on <topic>/presence/<key>, cleared by an empty retained message when the
// subscription leaves or by the connection's last will when it drops.
// Broadcasts are published on <topic>/broadcast.
//
// The client reconnects on its own. A subscription reports StatusSubscribed
// once its topics are restored after a reconnect, and StatusClosed when they
// cannot be restored or the broker stays unreachable past the reconnect timeout.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
)

const (
	qos            = 1
	queueSize      = 256
	connectTimeout = 10 * time.Second
	disconnectWait = 250

	// DefaultReconnectTimeout is how long a lost connection may take to come back before the subscription is dropped.
	DefaultReconnectTimeout = 30 * time.Second
)

// broadcastFrame is the payload published on the broadcast topic.
type broadcastFrame struct {
	Sender  string          `json:"sender"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// storedPresence is the retained payload of a presence topic.
type storedPresence struct {
	Since int64           `json:"since"`
	Meta  json.RawMessage `json:"meta"`
}

func presenceTopic(topic, key string) string {
	return topic + "/presence/" + key
}

func broadcastTopic(topic string) string {
	return topic + "/broadcast"
}

var _ pubsub.Transport = &Transport{}

type Transport struct {
	broker           string
	username         string
	password         string
	reconnectTimeout time.Duration
}

type NewTransportOptions struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker   string
	Username string
	Password string
	// ReconnectTimeout defaults to DefaultReconnectTimeout.
	ReconnectTimeout time.Duration
}

func NewTransport(opts NewTransportOptions) *Transport {
	reconnectTimeout := opts.ReconnectTimeout
	if reconnectTimeout <= 0 {
		reconnectTimeout = DefaultReconnectTimeout
	}
	return &Transport{
		broker:           opts.Broker,
		username:         opts.Username,
		password:         opts.Password,
		reconnectTimeout: reconnectTimeout,
	}
}

// Subscribe connects to the broker and returns once the topic subscriptions are in place.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler pubsub.Handler) (pubsub.Subscription, error) {
	sub := &Subscription{
		topic:     topic,
		key:       uuid.NewString(),
		since:     time.Now().UnixNano(),
		handler:          handler,
		reconnectTimeout: t.reconnectTimeout,
		events:           make(chan pubsub.Event, queueSize),
		done:             make(chan struct{}),
		presences:        make(map[string]storedPresence),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(t.broker)
	opts.SetClientID("skyshield-" + sub.key)
	if t.username != "" {
		opts.SetUsername(t.username)
	}
	if t.password != "" {
		opts.SetPassword(t.password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetBinaryWill(presenceTopic(topic, sub.key), []byte{}, qos, true)
	opts.SetOnConnectHandler(sub.onConnect)
	opts.SetConnectionLostHandler(sub.onConnectionLost)

	sub.client = paho.NewClient(opts)
	log.Debug("Connecting to MQTT broker at %s", t.broker)
	if err := wait(ctx, sub.client.Connect()); err != nil {
		sub.client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker: %v", err)
	}
	if err := sub.subscribe(ctx); err != nil {
		sub.client.Disconnect(0)
		return nil, err
	}

	go sub.deliver()
	sub.enqueue(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: sub.snapshot()})

	log.Debug("Subscribed to %s via mqtt as %s", topic, sub.key)
	return sub, nil
}

var _ pubsub.Subscription = &Subscription{}

type Subscription struct {
	client           paho.Client
	topic            string
	key              string
	since            int64
	handler          pubsub.Handler
	reconnectTimeout time.Duration
	events           chan pubsub.Event
	done             chan struct{}

	lock        sync.Mutex
	presences   map[string]storedPresence
	tracked     bool
	connections int
	lost        *time.Timer
	dropped     bool
	closed      bool
}

func (s *Subscription) Key() string {
	return s.key
}

func (s *Subscription) Track(ctx context.Context, meta json.RawMessage) error {
	if s.isClosed() {
		return pubsub.ErrUnsubscribed
	}
	b, err := json.Marshal(&storedPresence{Since: s.since, Meta: meta})
	if err != nil {
		return fmt.Errorf("failed to encode presence: %v", err)
	}
	if err := wait(ctx, s.client.Publish(presenceTopic(s.topic, s.key), qos, true, b)); err != nil {
		return fmt.Errorf("failed to publish presence: %v", err)
	}

	s.lock.Lock()
	s.tracked = true
	s.lock.Unlock()
	return nil
}

func (s *Subscription) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	if s.isClosed() {
		return pubsub.ErrUnsubscribed
	}
	b, err := json.Marshal(&broadcastFrame{Sender: s.key, Name: name, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %v", err)
	}
	if err := wait(ctx, s.client.Publish(broadcastTopic(s.topic), qos, false, b)); err != nil {
		return fmt.Errorf("failed to publish to %s: %v", broadcastTopic(s.topic), err)
	}
	return nil
}

func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	tracked := s.tracked
	if s.lost != nil {
		s.lost.Stop()
		s.lost = nil
	}
	s.lock.Unlock()
	close(s.done)

	var err error
	if tracked {
		if perr := wait(ctx, s.client.Publish(presenceTopic(s.topic, s.key), qos, true, []byte{})); perr != nil {
			err = fmt.Errorf("failed to clear presence: %v", perr)
		}
	}
	if uerr := wait(ctx, s.client.Unsubscribe(presenceTopic(s.topic, "+"), broadcastTopic(s.topic))); uerr != nil {
		log.Debug("Failed to unsubscribe from %s: %v", s.topic, uerr)
	}
	s.client.Disconnect(disconnectWait)
	return err
}

func (s *Subscription) subscribe(ctx context.Context) error {
	filters := map[string]byte{
		presenceTopic(s.topic, "+"): qos,
		broadcastTopic(s.topic):     qos,
	}
	if err := wait(ctx, s.client.SubscribeMultiple(filters, s.onMessage)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %v", s.topic, err)
	}
	return nil
}

// onConnect re-subscribes after a reconnect. The clean session dropped the old subscriptions.
func (s *Subscription) onConnect(paho.Client) {
	s.lock.Lock()
	if s.lost != nil {
		s.lost.Stop()
		s.lost = nil
	}
	if s.dropped || s.closed {
		s.lock.Unlock()
		return
	}
	s.connections++
	reconnect := s.connections > 1
	if reconnect {
		s.presences = make(map[string]storedPresence)
	}
	s.lock.Unlock()
	if !reconnect {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := s.subscribe(ctx); err != nil {
			log.Error("Failed to restore subscription to %s: %v", s.topic, err)
			s.drop()
			return
		}
		log.Info("Restored MQTT subscription to %s", s.topic)
		s.enqueue(pubsub.Event{Type: pubsub.EventStatus, Status: pubsub.StatusSubscribed})
	}()
}

// onConnectionLost gives the client reconnectTimeout to come back before the subscription is dropped.
func (s *Subscription) onConnectionLost(_ paho.Client, err error) {
	log.Warn("MQTT connection for %s lost: %v", s.topic, err)

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed || s.dropped || s.lost != nil {
		return
	}
	s.lost = time.AfterFunc(s.reconnectTimeout, func() {
		log.Error("MQTT connection for %s not restored within %v", s.topic, s.reconnectTimeout)
		s.drop()
	})
}

// drop reports StatusClosed once. Later reconnects are ignored.
func (s *Subscription) drop() {
	s.lock.Lock()
	if s.closed || s.dropped {
		s.lock.Unlock()
		return
	}
	s.dropped = true
	s.lost = nil
	s.lock.Unlock()

	s.enqueue(pubsub.Event{Type: pubsub.EventStatus, Status: pubsub.StatusClosed})
}

func (s *Subscription) onMessage(_ paho.Client, msg paho.Message) {
	if msg.Topic() == broadcastTopic(s.topic) {
		frame := &broadcastFrame{}
		if err := json.Unmarshal(msg.Payload(), frame); err != nil {
			log.Warn("Dropping malformed broadcast on %s: %v", s.topic, err)
			return
		}
		if frame.Sender == s.key {
			return
		}
		s.enqueue(pubsub.Event{Type: pubsub.EventBroadcast, Name: frame.Name, Payload: frame.Payload})
		return
	}

	key := strings.TrimPrefix(msg.Topic(), presenceTopic(s.topic, ""))
	if len(msg.Payload()) == 0 {
		s.lock.Lock()
		left, ok := s.presences[key]
		delete(s.presences, key)
		s.lock.Unlock()
		if ok {
			s.enqueue(pubsub.Event{Type: pubsub.EventPresenceLeave, Presences: []pubsub.Presence{{Key: key, Meta: left.Meta}}})
			s.enqueue(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: s.snapshot()})
		}
		return
	}

	stored := storedPresence{}
	if err := json.Unmarshal(msg.Payload(), &stored); err != nil {
		log.Warn("Ignoring malformed presence %s on %s: %v", key, s.topic, err)
		return
	}
	s.lock.Lock()
	s.presences[key] = stored
	s.lock.Unlock()
	s.enqueue(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: s.snapshot()})
}

// snapshot returns the known presences, oldest first.
func (s *Subscription) snapshot() []pubsub.Presence {
	s.lock.Lock()
	defer s.lock.Unlock()

	keys := make([]string, 0, len(s.presences))
	for key := range s.presences {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.presences[keys[i]], s.presences[keys[j]]
		if a.Since == b.Since {
			return keys[i] < keys[j]
		}
		return a.Since < b.Since
	})

	presences := make([]pubsub.Presence, 0, len(keys))
	for _, key := range keys {
		presences = append(presences, pubsub.Presence{Key: key, Meta: s.presences[key].Meta})
	}
	return presences
}

// enqueue hands an event to the delivery goroutine so paho's router never waits on the handler.
func (s *Subscription) enqueue(event pubsub.Event) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

func (s *Subscription) deliver() {
	for {
		select {
		case event := <-s.events:
			s.handler(event)
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) isClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
