package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"
)

func TestForwarder_PublishesEventsToConversationTopic(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := pubsub.Subscribe(ctx, TopicForConversation("conv-1"))
	require.NoError(t, err)

	f := NewForwarder(pubsub)
	f.Forward("conv-1", Event{Type: EventToken, Content: "hello"})

	select {
	case msg := <-ch:
		var ev Event
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		require.Equal(t, EventToken, ev.Type)
		require.Equal(t, "hello", ev.Content)
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("no event published")
	}
}

func TestForwarder_NilPublisherIsNoOp(t *testing.T) {
	var f *Forwarder
	require.NotPanics(t, func() { f.Forward("conv-1", Event{Type: EventDone}) })
	require.Nil(t, NewForwarder(nil))
}
