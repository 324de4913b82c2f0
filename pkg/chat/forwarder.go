package chat

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TopicForConversation is the event topic a transport subscribes to.
func TopicForConversation(conversationID string) string {
	return "chat:" + conversationID
}

// Forwarder publishes turn events to a per-conversation topic for transports
// that subscribe (websocket fan-out, redis streams) instead of consuming the
// turn's Stream directly. Publish failures are logged and dropped; the
// pull-based stream stays the source of truth.
type Forwarder struct {
	publisher message.Publisher
}

func NewForwarder(publisher message.Publisher) *Forwarder {
	if publisher == nil {
		return nil
	}
	return &Forwarder{publisher: publisher}
}

func (f *Forwarder) Forward(conversationID string, ev Event) {
	if f == nil || f.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("conv_id", conversationID).Msg("failed to encode turn event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := f.publisher.Publish(TopicForConversation(conversationID), msg); err != nil {
		log.Warn().Err(err).Str("conv_id", conversationID).Str("event_type", string(ev.Type)).Msg("failed to publish turn event")
	}
}
