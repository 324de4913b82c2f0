package chat

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/cairnwell/ragline/pkg/convstore"
	"github.com/cairnwell/ragline/pkg/providers"
)

type capturingLLM struct {
	prompts  []string
	response string
	err      error
}

func (f *capturingLLM) Model() string { return "capturing-model" }

func (f *capturingLLM) Generate(_ context.Context, prompt string, maxTokens int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if maxTokens != rewriteMaxTokens {
		return "", errors.Errorf("unexpected max tokens %d", maxTokens)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *capturingLLM) StreamChat(context.Context, []providers.ChatMessage) (providers.TokenStream, error) {
	return nil, errors.New("not implemented")
}

func history(contents ...string) []convstore.Message {
	out := make([]convstore.Message, len(contents))
	for i, c := range contents {
		role := convstore.RoleUser
		if i%2 == 1 {
			role = convstore.RoleAssistant
		}
		out[i] = convstore.Message{Role: role, Content: c}
	}
	return out
}

func TestRewrite_NoHistoryReturnsOriginal(t *testing.T) {
	llm := &capturingLLM{response: "should not be used"}
	r := NewRewriter(llm)

	got := r.Rewrite(context.Background(), "fresh question", nil)
	require.Equal(t, "fresh question", got)
	require.Empty(t, llm.prompts)
}

func TestRewrite_UsesLastFourMessages(t *testing.T) {
	llm := &capturingLLM{response: "  standalone query  "}
	r := NewRewriter(llm)

	got := r.Rewrite(context.Background(), "what about that?",
		history("m1", "m2", "m3", "m4", "m5", "m6"))
	require.Equal(t, "standalone query", got)
	require.Len(t, llm.prompts, 1)
	require.NotContains(t, llm.prompts[0], "m1")
	require.NotContains(t, llm.prompts[0], "m2")
	require.Contains(t, llm.prompts[0], "m3")
	require.Contains(t, llm.prompts[0], "m6")
	require.Contains(t, llm.prompts[0], `"what about that?"`)
}

func TestRewrite_FailureFallsBackSilently(t *testing.T) {
	llm := &capturingLLM{err: errors.New("llm down")}
	r := NewRewriter(llm)

	got := r.Rewrite(context.Background(), "original", history("a", "b"))
	require.Equal(t, "original", got)
}

func TestRewrite_BlankResultFallsBack(t *testing.T) {
	llm := &capturingLLM{response: "   "}
	r := NewRewriter(llm)

	got := r.Rewrite(context.Background(), "original", history("a", "b"))
	require.Equal(t, "original", got)
}
