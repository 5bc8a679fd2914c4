package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/log"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/messages"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub/memory"
)

const (
	writeTimeout = 5 * time.Second
)

// session is one client connection. A connection carries exactly one subscription.
type session struct {
	conn *websocket.Conn
	hub  *memory.Hub

	writeLock sync.Mutex
	sub       pubsub.Subscription
}

func newSession(conn *websocket.Conn, hub *memory.Hub) *session {
	return &session{
		conn: conn,
		hub:  hub,
	}
}

func (s *session) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		if s.sub != nil {
			if err := s.sub.Unsubscribe(context.Background()); err != nil {
				log.Warn("Failed to release subscription %s: %v", s.sub.Key(), err)
			}
		}
		s.conn.Close()
	}()

	for {
		msg, err := ReadMessageFromWS(s.conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("Error reading WebSocket message from %s: %v", s.conn.RemoteAddr().String(), err)
			}
			log.Trace("Connection closed for %s", s.conn.RemoteAddr().String())
			return
		}
		log.Trace("Received %s message from %s", msg.Type, s.conn.RemoteAddr().String())

		if done := s.handleMessage(ctx, msg); done {
			return
		}
	}
}

// handleMessage applies one client message and reports whether the connection is finished.
func (s *session) handleMessage(ctx context.Context, msg *messages.Message) bool {
	switch msg.Type {
	case messages.MessageTypeClientSubscribe:
		if s.sub != nil {
			s.writeError("already subscribed")
			return false
		}
		sub, err := s.hub.Subscribe(ctx, msg.Topic, s.forward)
		if err != nil {
			log.Debug("Rejected subscription to %s from %s: %v", msg.Topic, s.conn.RemoteAddr().String(), err)
			s.writeError(err.Error())
			s.closeWith(websocket.ClosePolicyViolation, "subscription rejected")
			return true
		}
		s.sub = sub
		if err := s.write(&messages.Message{Type: messages.MessageTypeServerSubscribed, Topic: msg.Topic, Key: sub.Key()}); err != nil {
			log.Warn("Failed to acknowledge subscription %s: %v", sub.Key(), err)
			return true
		}
	case messages.MessageTypeClientTrack:
		if s.sub == nil {
			s.writeError("not subscribed")
			return false
		}
		if err := s.sub.Track(ctx, msg.Payload); err != nil {
			log.Warn("Failed to track presence for %s: %v", s.sub.Key(), err)
		}
	case messages.MessageTypeClientBroadcast:
		if s.sub == nil {
			s.writeError("not subscribed")
			return false
		}
		if err := s.sub.Broadcast(ctx, msg.Name, msg.Payload); err != nil {
			log.Warn("Failed to broadcast for %s: %v", s.sub.Key(), err)
		}
	case messages.MessageTypeClientUnsubscribe:
		s.closeWith(websocket.CloseNormalClosure, "unsubscribed")
		return true
	default:
		log.Warn("Received unexpected message type from %s: %s", s.conn.RemoteAddr().String(), msg.Type)
	}
	return false
}

// forward relays hub events to the client. It runs on the hub's delivery goroutine.
func (s *session) forward(event pubsub.Event) {
	msg := &messages.Message{Presences: event.Presences, Name: event.Name, Payload: event.Payload}
	switch event.Type {
	case pubsub.EventPresenceSync:
		msg.Type = messages.MessageTypeServerPresenceSync
	case pubsub.EventPresenceLeave:
		msg.Type = messages.MessageTypeServerPresenceLeave
	case pubsub.EventBroadcast:
		msg.Type = messages.MessageTypeServerBroadcast
	case pubsub.EventStatus:
		if event.Status == pubsub.StatusClosed {
			s.closeWith(websocket.CloseGoingAway, "subscription dropped")
		}
		return
	default:
		return
	}

	if err := s.write(msg); err != nil {
		log.Debug("Failed to forward %s event: %v", event.Type, err)
	}
}

func (s *session) write(msg *messages.Message) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return WriteMessageToWS(s.conn, msg)
}

func (s *session) writeError(reason string) {
	payload, _ := json.Marshal(reason)
	if err := s.write(&messages.Message{Type: messages.MessageTypeServerError, Payload: payload}); err != nil {
		log.Debug("Failed to send error to %s: %v", s.conn.RemoteAddr().String(), err)
	}
}

func (s *session) closeWith(code int, reason string) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	deadline := time.Now().Add(writeTimeout)
	if err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		log.Debug("Failed to send close to %s: %v", s.conn.RemoteAddr().String(), err)
	}
	s.conn.Close()
}

// WriteMessageToWS writes a Message to a WebSocket connection
func WriteMessageToWS(conn *websocket.Conn, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}

// ReadMessageFromWS reads a Message from a WebSocket connection
func ReadMessageFromWS(conn *websocket.Conn) (*messages.Message, error) {
	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	msg, err := messages.DeserializeMessage(message)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}

	return msg, nil
}
