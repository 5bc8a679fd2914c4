package messages

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	envelopefb "github.com/nickyaskolko/sky-shield-command-main-sub001/flatbuffers/envelope"
	"github.com/nickyaskolko/sky-shield-command-main-sub001/pkg/pubsub"
)

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxMessageSize*4))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
	}
}

// SerializeMessage encodes m as a compressed flatbuffer.
func SerializeMessage(m *Message) ([]byte, error) {
	b, err := SerializeMessageFlatbuffer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %v", err)
	}
	return encoder.EncodeAll(b, make([]byte, 0, len(b))), nil
}

func DeserializeMessage(data []byte) (*Message, error) {
	b, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress message: %v", err)
	}

	message, err := DeserializeMessageFlatbuffer(b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}

	return message, nil
}

func SerializeMessageFlatbuffer(m *Message) ([]byte, error) {
	if m.Type == 0 {
		return nil, fmt.Errorf("message type is not set")
	}
	builder := flatbuffers.NewBuilder(len(m.Payload) + 64)

	presenceOffsets := make([]flatbuffers.UOffsetT, 0, len(m.Presences))
	for _, p := range m.Presences {
		key := builder.CreateString(p.Key)
		meta := builder.CreateByteVector(p.Meta)

		envelopefb.PresenceStart(builder)
		envelopefb.PresenceAddKey(builder, key)
		envelopefb.PresenceAddMeta(builder, meta)
		presenceOffsets = append(presenceOffsets, envelopefb.PresenceEnd(builder))
	}
	envelopefb.MessageStartPresencesVector(builder, len(presenceOffsets))
	for i := len(presenceOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(presenceOffsets[i])
	}
	presences := builder.EndVector(len(presenceOffsets))

	topic := builder.CreateString(m.Topic)
	key := builder.CreateString(m.Key)
	name := builder.CreateString(m.Name)
	payload := builder.CreateByteVector(m.Payload)

	envelopefb.MessageStart(builder)
	envelopefb.MessageAddType(builder, byte(m.Type))
	envelopefb.MessageAddTopic(builder, topic)
	envelopefb.MessageAddKey(builder, key)
	envelopefb.MessageAddName(builder, name)
	envelopefb.MessageAddPayload(builder, payload)
	envelopefb.MessageAddPresences(builder, presences)
	messageOffset := envelopefb.MessageEnd(builder)
	builder.Finish(messageOffset)

	return builder.FinishedBytes(), nil
}

func DeserializeMessageFlatbuffer(b []byte) (m *Message, err error) {
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("buffer too short: %d bytes", len(b))
	}
	// Accessors index straight into the buffer and panic on a corrupt one.
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("malformed flatbuffer: %v", r)
		}
	}()

	messageFlatbuffer := envelopefb.GetRootAsMessage(b, 0)
	message := &Message{
		Type:  MessageType(messageFlatbuffer.Type()),
		Topic: string(messageFlatbuffer.Topic()),
		Key:   string(messageFlatbuffer.Key()),
		Name:  string(messageFlatbuffer.Name()),
	}
	if payload := messageFlatbuffer.PayloadBytes(); len(payload) > 0 {
		message.Payload = append([]byte(nil), payload...)
	}

	if n := messageFlatbuffer.PresencesLength(); n > 0 {
		message.Presences = make([]pubsub.Presence, 0, n)
		presenceFlatbuffer := &envelopefb.Presence{}
		for i := 0; i < n; i++ {
			if !messageFlatbuffer.Presences(presenceFlatbuffer, i) {
				return nil, fmt.Errorf("failed to get presence at index %d", i)
			}
			message.Presences = append(message.Presences, pubsub.Presence{
				Key:  string(presenceFlatbuffer.Key()),
				Meta: append([]byte(nil), presenceFlatbuffer.MetaBytes()...),
			})
		}
	}

	if message.Type == 0 {
		return nil, fmt.Errorf("message type is not set")
	}
	return message, nil
}
