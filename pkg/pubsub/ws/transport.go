// Package ws is the client side of the relay server.
// Every subscription gets its own WebSocket connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/messages"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
	"nhooyr.io/websocket"
)

// TokenSource supplies the bearer token sent when dialing the relay.
type TokenSource interface {
	Token() (string, error)
}

var _ pubsub.Transport = &Transport{}

type Transport struct {
	url        string
	tokens     TokenSource
	httpClient *http.Client
}

type NewTransportOptions struct {
	// URL is the relay endpoint, e.g. ws://localhost:8081/ws.
	URL string
	// Tokens is optional; without it no Authorization header is sent.
	Tokens TokenSource
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

func NewTransport(opts NewTransportOptions) *Transport {
	return &Transport{
		url:        opts.URL,
		tokens:     opts.Tokens,
		httpClient: opts.HTTPClient,
	}
}

// Subscribe dials the relay and returns once it acknowledged the subscription.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler pubsub.Handler) (pubsub.Subscription, error) {
	dialOpts := &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: http.Header{},
	}
	if t.tokens != nil {
		token, err := t.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to get relay token: %v", err)
		}
		dialOpts.HTTPHeader.Set("Authorization", "Bearer "+token)
	}

	log.Debug("Connecting to relay at %s", t.url)
	conn, _, err := websocket.Dial(ctx, t.url, dialOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %v", err)
	}
	conn.SetReadLimit(messages.MaxMessageSize)

	sub := &Subscription{
		conn:    conn,
		topic:   topic,
		handler: handler,
		acks:    make(chan *messages.Message, 1),
		done:    make(chan struct{}),
	}
	go sub.readLoop()

	if err := sub.write(ctx, &messages.Message{Type: messages.MessageTypeClientSubscribe, Topic: topic}); err != nil {
		sub.close()
		return nil, err
	}

	var ack *messages.Message
	select {
	case ack = <-sub.acks:
	case <-sub.done:
		// A rejection is followed by the relay closing the connection.
		select {
		case ack = <-sub.acks:
		default:
		}
	case <-ctx.Done():
		sub.close()
		return nil, ctx.Err()
	}
	if ack == nil {
		sub.close()
		return nil, errors.New("relay closed the connection before acknowledging the subscription")
	}
	if ack.Type == messages.MessageTypeServerError {
		sub.close()
		if errorText(ack.Payload) == pubsub.ErrTopicFull.Error() {
			return nil, pubsub.ErrTopicFull
		}
		return nil, fmt.Errorf("relay rejected subscription: %s", errorText(ack.Payload))
	}
	sub.lock.Lock()
	sub.key = ack.Key
	sub.lock.Unlock()

	log.Debug("Subscribed to %s via relay as %s", topic, sub.Key())
	return sub, nil
}

var _ pubsub.Subscription = &Subscription{}

type Subscription struct {
	conn    *websocket.Conn
	topic   string
	handler pubsub.Handler
	acks    chan *messages.Message
	done    chan struct{}

	lock    sync.Mutex
	key     string
	acked   bool
	closing bool
}

func (s *Subscription) Key() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.key
}

func (s *Subscription) Track(ctx context.Context, meta json.RawMessage) error {
	if s.isClosing() {
		return pubsub.ErrUnsubscribed
	}
	return s.write(ctx, &messages.Message{Type: messages.MessageTypeClientTrack, Topic: s.topic, Payload: meta})
}

func (s *Subscription) Broadcast(ctx context.Context, name string, payload json.RawMessage) error {
	if s.isClosing() {
		return pubsub.ErrUnsubscribed
	}
	return s.write(ctx, &messages.Message{Type: messages.MessageTypeClientBroadcast, Topic: s.topic, Name: name, Payload: payload})
}

func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.lock.Lock()
	if s.closing {
		s.lock.Unlock()
		return nil
	}
	s.closing = true
	s.lock.Unlock()

	// The relay releases the subscription when the close handshake completes.
	if err := s.conn.Close(websocket.StatusNormalClosure, "unsubscribed"); err != nil && !isClosed(err) {
		return fmt.Errorf("failed to close relay connection: %v", err)
	}
	return nil
}

func (s *Subscription) write(ctx context.Context, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}
	if err := s.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return fmt.Errorf("failed to write message to relay: %v", err)
	}
	return nil
}

func (s *Subscription) readLoop() {
	defer close(s.done)
	for {
		_, b, err := s.conn.Read(context.Background())
		if err != nil {
			s.lock.Lock()
			dropped := s.acked && !s.closing
			s.closing = true
			s.lock.Unlock()
			if dropped {
				log.Warn("Relay connection for %s dropped: %v", s.topic, err)
				s.handler(pubsub.Event{Type: pubsub.EventStatus, Status: pubsub.StatusClosed})
			}
			return
		}

		msg, err := messages.DeserializeMessage(b)
		if err != nil {
			log.Error("Failed to deserialize relay message: %v", err)
			continue
		}
		log.Trace("Received %s message from relay", msg.Type)

		switch msg.Type {
		case messages.MessageTypeServerSubscribed:
			s.lock.Lock()
			s.acked = true
			s.lock.Unlock()
			s.ack(msg)
		case messages.MessageTypeServerError:
			s.lock.Lock()
			acked := s.acked
			s.lock.Unlock()
			if !acked {
				s.ack(msg)
				continue
			}
			log.Warn("Relay reported an error on %s: %s", s.topic, errorText(msg.Payload))
		case messages.MessageTypeServerPresenceSync:
			s.handler(pubsub.Event{Type: pubsub.EventPresenceSync, Presences: msg.Presences})
		case messages.MessageTypeServerPresenceLeave:
			s.handler(pubsub.Event{Type: pubsub.EventPresenceLeave, Presences: msg.Presences})
		case messages.MessageTypeServerBroadcast:
			s.handler(pubsub.Event{Type: pubsub.EventBroadcast, Name: msg.Name, Payload: msg.Payload})
		default:
			log.Warn("Received unexpected message type from relay: %s", msg.Type)
		}
	}
}

func (s *Subscription) ack(msg *messages.Message) {
	select {
	case s.acks <- msg:
	default:
	}
}

func (s *Subscription) isClosing() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closing
}

// close tears down a connection that never completed its subscription.
func (s *Subscription) close() {
	s.lock.Lock()
	s.closing = true
	s.lock.Unlock()
	s.conn.Close(websocket.StatusNormalClosure, "")
}

func isClosed(err error) bool {
	return websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled)
}

func errorText(payload json.RawMessage) string {
	var text string
	if err := json.Unmarshal(payload, &text); err != nil {
		return string(payload)
	}
	return text
}
