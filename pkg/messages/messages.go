package messages

import (
	"encoding/json"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
)

const (
	// MaxMessageSize is the largest frame the relay and its clients accept.
	MaxMessageSize = 64 * 1024
)

type MessageType byte

// Message types
const (
	MessageTypeClientSubscribe MessageType = iota + 1
	MessageTypeClientTrack
	MessageTypeClientBroadcast
	MessageTypeClientUnsubscribe
	MessageTypeServerSubscribed
	MessageTypeServerPresenceSync
	MessageTypeServerPresenceLeave
	MessageTypeServerBroadcast
	MessageTypeServerError
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeClientSubscribe:
		return "subscribe"
	case MessageTypeClientTrack:
		return "track"
	case MessageTypeClientBroadcast:
		return "broadcast"
	case MessageTypeClientUnsubscribe:
		return "unsubscribe"
	case MessageTypeServerSubscribed:
		return "subscribed"
	case MessageTypeServerPresenceSync:
		return "presence_sync"
	case MessageTypeServerPresenceLeave:
		return "presence_leave"
	case MessageTypeServerBroadcast:
		return "broadcast_event"
	case MessageTypeServerError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one relay frame.
// Key is the subscription key assigned by the relay; Payload holds presence meta for
// track frames, broadcast bodies, and error text.
type Message struct {
	Type      MessageType       `json:"type"`
	Topic     string            `json:"topic,omitempty"`
	Key       string            `json:"key,omitempty"`
	Name      string            `json:"name,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Presences []pubsub.Presence `json:"presences,omitempty"`
}
