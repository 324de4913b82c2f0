package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cairnwell/ragline/pkg/convstore"
	"github.com/cairnwell/ragline/pkg/providers"
)

const (
	rewriteContextMessages = 4
	rewriteMaxTokens       = 100
)

// Rewriter turns an ambiguous follow-up ("what about the premium plan?")
// into a standalone search query using recent turns. Rewriting is a quality
// enhancement, never a hard dependency: any failure falls back to the
// original message.
type Rewriter struct {
	llm providers.LLMProvider
}

func NewRewriter(llm providers.LLMProvider) *Rewriter {
	return &Rewriter{llm: llm}
}

// Rewrite never returns an error; the fallback is the message itself. The
// fallback branch stays visible in logs even though callers can't observe it.
func (r *Rewriter) Rewrite(ctx context.Context, message string, recent []convstore.Message) string {
	if len(recent) == 0 {
		return message
	}
	if len(recent) > rewriteContextMessages {
		recent = recent[len(recent)-rewriteContextMessages:]
	}
	var b strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	prompt := fmt.Sprintf(
		"Given this conversation:\n%s\nThe user just asked: %q\n\nRewrite as a standalone search query. Return ONLY the query.",
		b.String(), message)

	rewritten, err := r.llm.Generate(ctx, prompt, rewriteMaxTokens)
	if err != nil {
		log.Warn().Err(err).Msg("query rewrite failed, using original message")
		return message
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return message
	}
	log.Debug().Str("original", message).Str("rewritten", rewritten).Msg("query rewritten")
	return rewritten
}
