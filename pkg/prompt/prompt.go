// Package prompt deterministically assembles the model-ready message list for
// a grounded turn: system instructions, summary block, numbered context
// block, recent messages, then the current question.
package prompt

import (
	"fmt"
	"strings"

	"github.com/cairnwell/ragline/pkg/convstore"
	"github.com/cairnwell/ragline/pkg/providers"
	"github.com/cairnwell/ragline/pkg/retrieval"
)

// DefaultSystemPrompt carries the grounding rules for answers.
const DefaultSystemPrompt = `You are a helpful assistant that answers questions based on the provided context.

CRITICAL RULES:
1. ONLY answer based on the information in the <retrieved_context> section.
2. If the context does not contain enough information to answer the question, say:
   "I don't have enough information in my knowledge base to answer that question."
3. NEVER make up information that is not in the context.
4. When you use information from a source, mention which source it came from (e.g., "According to [Source 1: filename]...").
5. If the conversation summary provides relevant background, you may reference it.
6. Keep responses concise and directly relevant to the question.
7. If the user's question is a greeting or casual conversation (not a knowledge question), respond naturally without citing sources.`

type Input struct {
	SystemPrompt string
	Summary      string
	Chunks       []retrieval.Chunk
	Recent       []convstore.Message
	Question     string
}

// Assemble builds the message list. Source numbering in the context block
// follows Chunks order exactly; downstream citation text refers to these
// indices.
func Assemble(in Input) []providers.ChatMessage {
	system := in.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}

	var b strings.Builder
	b.WriteString(system)

	if in.Summary != "" {
		b.WriteString("\n\n<conversation_summary>\n")
		b.WriteString(in.Summary)
		b.WriteString("\n</conversation_summary>")
	}

	if len(in.Chunks) > 0 {
		b.WriteString("\n\n<retrieved_context>\n")
		for i, chunk := range in.Chunks {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[Source %d: %s]\n%s", i+1, chunk.FileName, chunk.Text)
		}
		b.WriteString("\n</retrieved_context>")
	}

	messages := make([]providers.ChatMessage, 0, len(in.Recent)+2)
	messages = append(messages, providers.ChatMessage{Role: convstore.RoleSystem, Content: b.String()})
	for _, m := range in.Recent {
		messages = append(messages, providers.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return append(messages, providers.ChatMessage{Role: convstore.RoleUser, Content: in.Question})
}
