// Package chat contains the turn orchestrator: the state machine that takes a
// user message through guardrails, context loading, query rewriting,
// retrieval, grounded generation, and atomic persistence, emitting a lazy
// stream of turn events along the way.
package chat

import (
	"context"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/cairnwell/ragline/pkg/convctx"
	"github.com/cairnwell/ragline/pkg/convlock"
	"github.com/cairnwell/ragline/pkg/convstore"
	"github.com/cairnwell/ragline/pkg/guardrail"
	"github.com/cairnwell/ragline/pkg/prompt"
	"github.com/cairnwell/ragline/pkg/providers"
	"github.com/cairnwell/ragline/pkg/retrieval"
)

const (
	titleMaxLen      = 50
	chunkMetadataLen = 200
)

type state string

const (
	stateValidating     state = "validating"
	stateContextLoading state = "context_loading"
	stateRewriting      state = "rewriting"
	stateRetrieving     state = "retrieving"
	stateGenerating     state = "generating"
	statePersisting     state = "persisting"
	stateCompacting     state = "compacting"
	stateDone           state = "done"
	stateRejected       state = "rejected"
	stateFailed         state = "failed"
)

// TurnRequest is one user message aimed at a conversation. An empty
// ConversationID starts a new conversation titled from the message.
type TurnRequest struct {
	TenantID       string
	ConversationID string
	Message        string
}

type Config struct {
	Guard     *guardrail.Validator
	Store     convstore.Store
	Contexts  *convctx.Manager
	Retriever *retrieval.Merger
	LLM       providers.LLMProvider

	// Locks serializes persistence and compaction per conversation.
	// Defaults to an in-process keyed mutex; use the Redis locker when
	// multiple instances share a store.
	Locks convlock.Locker
	// Publisher optionally mirrors turn events onto per-conversation topics.
	Publisher message.Publisher
	// SystemPrompt defaults to prompt.DefaultSystemPrompt.
	SystemPrompt string
	// Retrieval defaults to retrieval.DefaultOptions.
	Retrieval *retrieval.Options
}

// Orchestrator runs conversation turns. It holds no per-conversation state;
// the conversation store is the single source of truth and each turn works on
// a transient copy.
type Orchestrator struct {
	guard        *guardrail.Validator
	store        convstore.Store
	contexts     *convctx.Manager
	rewriter     *Rewriter
	retriever    *retrieval.Merger
	llm          providers.LLMProvider
	locks        convlock.Locker
	forwarder    *Forwarder
	systemPrompt string
	retrieveOpts retrieval.Options
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Guard == nil {
		return nil, errors.New("orchestrator: nil guardrail validator")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: nil conversation store")
	}
	if cfg.Contexts == nil {
		return nil, errors.New("orchestrator: nil context manager")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("orchestrator: nil retriever")
	}
	if cfg.LLM == nil {
		return nil, errors.New("orchestrator: nil llm provider")
	}
	locks := cfg.Locks
	if locks == nil {
		locks = convlock.NewKeyedMutex()
	}
	retrieveOpts := retrieval.DefaultOptions()
	if cfg.Retrieval != nil {
		retrieveOpts = *cfg.Retrieval
	}
	return &Orchestrator{
		guard:        cfg.Guard,
		store:        cfg.Store,
		contexts:     cfg.Contexts,
		rewriter:     NewRewriter(cfg.LLM),
		retriever:    cfg.Retriever,
		llm:          cfg.LLM,
		locks:        locks,
		forwarder:    NewForwarder(cfg.Publisher),
		systemPrompt: cfg.SystemPrompt,
		retrieveOpts: retrieveOpts,
	}, nil
}

// RunTurn starts one turn and returns its event stream. The turn runs until
// its terminal event is delivered or the consumer calls Close.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) *Stream {
	runCtx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go func() {
		defer close(s.events)
		defer cancel()
		o.run(runCtx, req, s)
	}()
	return s
}

func (o *Orchestrator) run(ctx context.Context, req TurnRequest, s *Stream) {
	logTransition := func(st state, convID string) {
		log.Debug().Str("state", string(st)).Str("conv_id", convID).Msg("turn transition")
	}

	// Validating. A rejection mutates nothing: no conversation is created.
	logTransition(stateValidating, req.ConversationID)
	if strings.TrimSpace(req.TenantID) == "" {
		o.fail(ctx, s, "", CodeValidation, "Tenant is required.", nil)
		return
	}
	if verdict := o.guard.ValidateInput(req.Message); !verdict.Safe {
		logTransition(stateRejected, req.ConversationID)
		log.Info().Str("tenant_id", req.TenantID).Msg("turn rejected by input guardrail")
		o.send(ctx, s, req.ConversationID, Event{Type: EventError, Code: CodeRejected, Content: verdict.Reason})
		return
	}

	// ContextLoading.
	logTransition(stateContextLoading, req.ConversationID)
	conv, err := o.loadOrCreate(ctx, req)
	if err != nil {
		if errors.Is(err, convstore.ErrNotFound) {
			o.fail(ctx, s, req.ConversationID, CodeNotFound, "Conversation not found.", err)
		} else {
			o.fail(ctx, s, req.ConversationID, CodeDependency, "Something went wrong. Please try again.", err)
		}
		return
	}
	cc := o.contexts.GetContext(conv)

	// Rewriting never fails the turn.
	logTransition(stateRewriting, conv.ID)
	query := o.rewriter.Rewrite(ctx, req.Message, cc.Recent)

	// Retrieving.
	logTransition(stateRetrieving, conv.ID)
	chunks, err := o.retriever.Retrieve(ctx, query, req.TenantID, o.retrieveOpts)
	if err != nil {
		o.fail(ctx, s, conv.ID, CodeDependency, "Something went wrong. Please try again.", err)
		return
	}

	// Generating: stream tokens out as they arrive, accumulate the full
	// response locally, persist nothing yet.
	logTransition(stateGenerating, conv.ID)
	messages := prompt.Assemble(prompt.Input{
		SystemPrompt: o.systemPrompt,
		Summary:      cc.Summary,
		Chunks:       chunks,
		Recent:       cc.Recent,
		Question:     req.Message,
	})
	response, ok, err := o.generate(ctx, s, conv.ID, messages)
	if err != nil {
		o.fail(ctx, s, conv.ID, CodeDependency, "Something went wrong. Please try again.", err)
		return
	}
	if !ok {
		// Consumer stopped pulling; generation was cancelled and the
		// incomplete response is discarded.
		log.Info().Str("conv_id", conv.ID).Msg("turn cancelled by consumer")
		return
	}

	// The leak check only sees the buffered response; streamed tokens are
	// already delivered. A hit downgrades what gets persisted.
	stored := response
	if verdict := o.guard.ValidateOutput(response); !verdict.Safe {
		log.Warn().Str("conv_id", conv.ID).Str("reason", verdict.Reason).Msg("output guardrail filtered persisted response")
		stored = verdict.Filtered
	}

	// Persisting and Compacting run under the per-conversation lock so a
	// concurrent turn cannot interleave between append and summary update.
	logTransition(statePersisting, conv.ID)
	release, err := o.locks.Acquire(ctx, conv.ID)
	if err != nil {
		o.fail(ctx, s, conv.ID, CodeDependency, "Something went wrong. Please try again.", err)
		return
	}
	err = o.persistTurn(ctx, conv.ID, req.Message, stored, chunks)
	if err != nil {
		release()
		// The generated answer was already delivered but is now lost; make
		// the inconsistency loud for operators.
		log.Error().Err(err).
			Str("conv_id", conv.ID).
			Int("answer_len", len(response)).
			Msg("turn persistence failed after streaming completed; delivered answer was not recorded")
		o.fail(ctx, s, conv.ID, CodeDependency, "Something went wrong. Please try again.", err)
		return
	}

	logTransition(stateCompacting, conv.ID)
	if _, err := o.contexts.CompactIfNeeded(ctx, req.TenantID, conv.ID); err != nil {
		// Tokens are already delivered; compaction failure must not fail the
		// turn. The next turn retries it.
		log.Error().Err(err).Str("conv_id", conv.ID).Msg("compaction failed")
	}
	release()

	logTransition(stateDone, conv.ID)
	o.send(ctx, s, conv.ID, Event{Type: EventDone, ConversationID: conv.ID})
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, req TurnRequest) (*convstore.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := o.store.Get(ctx, req.TenantID, req.ConversationID)
		return conv, errors.Wrap(err, "load conversation")
	}
	conv, err := o.store.Create(ctx, req.TenantID, truncateRunes(req.Message, titleMaxLen))
	return conv, errors.Wrap(err, "create conversation")
}

// generate pulls tokens from the provider and pushes them to the consumer.
// Returns ok=false when the consumer cancelled mid-stream.
func (o *Orchestrator) generate(ctx context.Context, s *Stream, convID string, messages []providers.ChatMessage) (string, bool, error) {
	stream, err := o.llm.StreamChat(ctx, messages)
	if err != nil {
		return "", false, errors.Wrap(err, "open generation stream")
	}
	defer func() { _ = stream.Close() }()

	var full strings.Builder
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), true, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", false, nil
			}
			return "", false, errors.Wrap(err, "generation stream")
		}
		full.WriteString(token)
		if !o.send(ctx, s, convID, Event{Type: EventToken, Content: token}) {
			return "", false, nil
		}
	}
}

func (o *Orchestrator) persistTurn(ctx context.Context, convID string, question string, answer string, chunks []retrieval.Chunk) error {
	refs := make([]convstore.ChunkRef, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, convstore.ChunkRef{
			Text:     truncateRunes(c.Text, chunkMetadataLen),
			Score:    c.Score,
			Source:   string(c.Source),
			FileName: c.FileName,
		})
	}
	user := convstore.Message{Role: convstore.RoleUser, Content: question}
	assistant := convstore.Message{
		Role:    convstore.RoleAssistant,
		Content: answer,
		Metadata: &convstore.MessageMetadata{
			RetrievedChunks: refs,
			TokenCount:      o.contexts.CountTokens(answer),
			ModelUsed:       o.llm.Model(),
		},
	}
	return errors.Wrap(o.store.AppendTurn(ctx, convID, user, assistant), "append turn")
}

// fail emits the terminal error event. User-facing content stays generic;
// the wrapped cause goes to the log for operators.
func (o *Orchestrator) fail(ctx context.Context, s *Stream, convID string, code ErrorCode, content string, cause error) {
	log.Error().Err(cause).Str("conv_id", convID).Str("code", string(code)).Msg("turn failed")
	o.send(ctx, s, convID, Event{Type: EventError, Code: code, Content: content})
}

func (o *Orchestrator) send(ctx context.Context, s *Stream, convID string, ev Event) bool {
	if convID != "" {
		o.forwarder.Forward(convID, ev)
	}
	return s.emit(ctx, ev)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
