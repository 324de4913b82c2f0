package convctx

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/cairnwell/ragline/pkg/convstore"
	"github.com/cairnwell/ragline/pkg/providers"
)

type fakeLLM struct {
	generated []string
	response  string
	err       error
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.generated = append(f.generated, prompt)
	return f.response, nil
}

func (f *fakeLLM) StreamChat(context.Context, []providers.ChatMessage) (providers.TokenStream, error) {
	return nil, errors.New("not implemented")
}

// fakeStore serves a single canned conversation and records summary updates.
type fakeStore struct {
	convstore.Store
	conv           *convstore.Conversation
	updatedSummary string
	updatedIndex   int
	updates        int
}

func (f *fakeStore) Get(context.Context, string, string) (*convstore.Conversation, error) {
	return f.conv, nil
}

func (f *fakeStore) UpdateSummary(_ context.Context, _ string, summary string, upToIndex int) error {
	f.updatedSummary = summary
	f.updatedIndex = upToIndex
	f.updates++
	return nil
}

func messagesOf(n int) []convstore.Message {
	out := make([]convstore.Message, n)
	for i := range out {
		role := convstore.RoleUser
		if i%2 == 1 {
			role = convstore.RoleAssistant
		}
		out[i] = convstore.Message{Role: role, Content: fmt.Sprintf("message %d", i)}
	}
	return out
}

func newTestManager(t *testing.T, store convstore.Store, llm providers.LLMProvider) *Manager {
	t.Helper()
	m, err := NewManager(store, llm)
	require.NoError(t, err)
	return m
}

func TestGetContext_ShortConversationReturnsEverything(t *testing.T) {
	m := newTestManager(t, convstore.NewMemoryStore(), &fakeLLM{})

	for _, n := range []int{0, 1, RecentWindow} {
		conv := &convstore.Conversation{Messages: messagesOf(n), Summary: "should be ignored"}
		cc := m.GetContext(conv)
		require.Empty(t, cc.Summary, "n=%d", n)
		require.Len(t, cc.Recent, n)
		for i, msg := range cc.Recent {
			require.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
		}
	}
}

func TestGetContext_LongConversationReturnsSummaryAndTail(t *testing.T) {
	m := newTestManager(t, convstore.NewMemoryStore(), &fakeLLM{})

	conv := &convstore.Conversation{Messages: messagesOf(25), Summary: "running summary"}
	cc := m.GetContext(conv)
	require.Equal(t, "running summary", cc.Summary)
	require.Len(t, cc.Recent, RecentWindow)
	require.Equal(t, "message 15", cc.Recent[0].Content)
	require.Equal(t, "message 24", cc.Recent[len(cc.Recent)-1].Content)
}

func TestCompactIfNeeded_FiresAtThreshold(t *testing.T) {
	// 31 messages, nothing summarized: 31 - 10 - 0 = 21 >= 20 fires, and the
	// new index is 21.
	llm := &fakeLLM{response: "the summary"}
	store := &fakeStore{conv: &convstore.Conversation{ID: "c1", Messages: messagesOf(31)}}
	m := newTestManager(t, store, llm)

	fired, err := m.CompactIfNeeded(context.Background(), "tenant-a", "c1")
	require.NoError(t, err)
	require.True(t, fired)
	require.Equal(t, "the summary", store.updatedSummary)
	require.Equal(t, 21, store.updatedIndex)

	// The summarization prompt covers exactly messages [0, 21).
	require.Len(t, llm.generated, 1)
	require.Contains(t, llm.generated[0], "message 0")
	require.Contains(t, llm.generated[0], "message 20")
	require.NotContains(t, llm.generated[0], "message 21")
}

func TestCompactIfNeeded_NoOpBelowThreshold(t *testing.T) {
	llm := &fakeLLM{response: "unused"}
	store := &fakeStore{conv: &convstore.Conversation{ID: "c1", Messages: messagesOf(29)}}
	m := newTestManager(t, store, llm)

	fired, err := m.CompactIfNeeded(context.Background(), "tenant-a", "c1")
	require.NoError(t, err)
	require.False(t, fired)
	require.Zero(t, store.updates)
	require.Empty(t, llm.generated)
}

func TestCompactIfNeeded_RecursiveFold(t *testing.T) {
	// A prior summary exists; the next compaction folds only the new range
	// into it instead of re-summarizing from scratch.
	llm := &fakeLLM{response: "updated summary"}
	store := &fakeStore{conv: &convstore.Conversation{
		ID:               "c1",
		Messages:         messagesOf(51),
		Summary:          "old summary",
		SummaryUpToIndex: 21,
	}}
	m := newTestManager(t, store, llm)

	fired, err := m.CompactIfNeeded(context.Background(), "tenant-a", "c1")
	require.NoError(t, err)
	require.True(t, fired)
	require.Equal(t, 41, store.updatedIndex)
	require.Len(t, llm.generated, 1)
	require.Contains(t, llm.generated[0], "old summary")
	require.Contains(t, llm.generated[0], "message 21")
	require.Contains(t, llm.generated[0], "message 40")
	require.NotContains(t, llm.generated[0], "message 20\n")
	require.NotContains(t, llm.generated[0], "message 41")
}

func TestCompactIfNeeded_SummarizerFailurePropagates(t *testing.T) {
	llm := &fakeLLM{err: errors.New("llm down")}
	store := &fakeStore{conv: &convstore.Conversation{ID: "c1", Messages: messagesOf(31)}}
	m := newTestManager(t, store, llm)

	_, err := m.CompactIfNeeded(context.Background(), "tenant-a", "c1")
	require.Error(t, err)
	require.Zero(t, store.updates)
}

func TestCountTokens(t *testing.T) {
	m := newTestManager(t, convstore.NewMemoryStore(), &fakeLLM{})
	require.Zero(t, m.CountTokens(""))
	require.Greater(t, m.CountTokens("what is the cancellation policy?"), 3)
}
