package messages

import (
	"encoding/json"
	"testing"

	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeMessage(t *testing.T) {
	tests := []struct {
		name    string
		message *Message
	}{
		{
			name:    "subscribe",
			message: &Message{Type: MessageTypeClientSubscribe, Topic: "room:r1"},
		},
		{
			name: "broadcast",
			message: &Message{
				Type:    MessageTypeServerBroadcast,
				Topic:   "room:r1",
				Key:     "k1",
				Name:    "state",
				Payload: json.RawMessage(`{"type":"state","payload":{"tick":7,"units":[{"id":"a","x":1.5}]}}`),
			},
		},
		{
			name: "presence sync",
			message: &Message{
				Type:  MessageTypeServerPresenceSync,
				Topic: "room:r1",
				Presences: []pubsub.Presence{
					{Key: "k1", Meta: json.RawMessage(`{"role":"host","userId":"h1"}`)},
					{Key: "k2", Meta: json.RawMessage(`{"role":"guest","userId":"g1"}`)},
				},
			},
		},
		{
			name:    "error",
			message: &Message{Type: MessageTypeServerError, Payload: json.RawMessage(`"topic is full"`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := SerializeMessage(tt.message)
			require.NoError(t, err)

			got, err := DeserializeMessage(b)
			require.NoError(t, err)
			assert.Equal(t, tt.message, got)
		})
	}
}

func TestSerializeMessage_missingType(t *testing.T) {
	_, err := SerializeMessage(&Message{Topic: "room:r1"})
	assert.Error(t, err)
}

func TestDeserializeMessage_garbage(t *testing.T) {
	_, err := DeserializeMessage([]byte("definitely not zstd"))
	assert.Error(t, err)

	_, err = DeserializeMessageFlatbuffer([]byte{1})
	assert.Error(t, err)
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "subscribe", MessageTypeClientSubscribe.String())
	assert.Equal(t, "presence_leave", MessageTypeServerPresenceLeave.String())
	assert.Equal(t, "unknown", MessageType(0).String())
}
