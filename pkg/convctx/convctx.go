// Package convctx derives the per-turn conversation context and folds older
// turns into a running summary once enough unsummarized messages pile up.
package convctx

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/tiktoken-go"

	"github.com/cairnwell/ragline/pkg/convstore"
	"github.com/cairnwell/ragline/pkg/providers"
)

const (
	// RecentWindow is how many tail messages stay verbatim and are never
	// summarized.
	RecentWindow = 10
	// CompactionThreshold is the number of unsummarized messages (beyond the
	// recent window) that triggers compaction.
	CompactionThreshold = 20
	// MaxSummaryTokens bounds each summarization call.
	MaxSummaryTokens = 500
)

// Context is what a turn sees of the conversation so far.
type Context struct {
	Summary string
	Recent  []convstore.Message
}

type Manager struct {
	store convstore.Store
	llm   providers.LLMProvider
	enc   *tiktoken.Tiktoken
}

func NewManager(store convstore.Store, llm providers.LLMProvider) (*Manager, error) {
	if store == nil {
		return nil, errors.New("context manager: nil store")
	}
	if llm == nil {
		return nil, errors.New("context manager: nil llm provider")
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, errors.Wrap(err, "context manager: init token counter")
	}
	return &Manager{store: store, llm: llm, enc: enc}, nil
}

// CountTokens estimates the token length of text. The count is approximate
// for non-OpenAI models but consistent, which is all the bookkeeping needs.
func (m *Manager) CountTokens(text string) int {
	return len(m.enc.Encode(text, nil, nil))
}

// GetContext returns the stored summary plus the last RecentWindow messages.
// Short conversations get the full message list and an empty summary.
func (m *Manager) GetContext(conv *convstore.Conversation) Context {
	if len(conv.Messages) <= RecentWindow {
		return Context{Recent: conv.Messages}
	}
	return Context{
		Summary: conv.Summary,
		Recent:  conv.Messages[len(conv.Messages)-RecentWindow:],
	}
}

// CompactIfNeeded reloads the conversation and, if at least
// CompactionThreshold messages sit between the summarized prefix and the
// recent window, folds them into the summary. Each call extends the prior
// summary instead of re-summarizing from scratch, so cost stays bounded as
// the conversation grows. Returns whether compaction fired.
//
// Callers must serialize this with turn persistence on the same conversation;
// the orchestrator holds the per-conversation lock across both.
func (m *Manager) CompactIfNeeded(ctx context.Context, tenantID string, conversationID string) (bool, error) {
	conv, err := m.store.Get(ctx, tenantID, conversationID)
	if err != nil {
		return false, errors.Wrap(err, "compaction: reload conversation")
	}
	unsummarized := len(conv.Messages) - RecentWindow - conv.SummaryUpToIndex
	if unsummarized < CompactionThreshold {
		return false, nil
	}

	upToIndex := len(conv.Messages) - RecentWindow
	toSummarize := conv.Messages[conv.SummaryUpToIndex:upToIndex]
	summary, err := m.summarize(ctx, conv.Summary, toSummarize)
	if err != nil {
		return false, errors.Wrap(err, "compaction: summarize")
	}
	if err := m.store.UpdateSummary(ctx, conversationID, summary, upToIndex); err != nil {
		return false, errors.Wrap(err, "compaction: persist summary")
	}
	log.Info().
		Str("conv_id", conversationID).
		Int("summarized", len(toSummarize)).
		Int("summary_up_to_index", upToIndex).
		Int("summary_tokens", m.CountTokens(summary)).
		Msg("conversation compacted")
	return true, nil
}

func (m *Manager) summarize(ctx context.Context, existingSummary string, messages []convstore.Message) (string, error) {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	messagesText := b.String()

	var prompt string
	if existingSummary != "" {
		prompt = fmt.Sprintf(`Here is a summary of the conversation so far:
%s

Here are the new messages since that summary:
%s
Update the summary to include the key information from these new messages.
Keep it concise (under 300 words). Focus on:
- Key facts, decisions, and agreements
- User preferences and requirements mentioned
- Important questions asked and answers given
- Any action items or follow-ups

Return ONLY the updated summary.`, existingSummary, messagesText)
	} else {
		prompt = fmt.Sprintf(`Summarize the following conversation. Focus on key facts, decisions, preferences, and important Q&A.
Keep it concise (under 300 words).

%s
Return ONLY the summary.`, messagesText)
	}

	summary, err := m.llm.Generate(ctx, prompt, MaxSummaryTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
