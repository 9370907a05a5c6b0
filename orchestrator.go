// Package coachengine orchestrates AI coaching conversations: local intent
// short-circuiting, prompt assembly, provider streaming, function dispatch,
// and turn persistence.
package coachengine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/airfit/coachengine/coacherr"
	"github.com/airfit/coachengine/intent"
	"github.com/airfit/coachengine/models"
	"github.com/airfit/coachengine/normalize"
	"github.com/airfit/coachengine/prompt"
	"github.com/airfit/coachengine/secrets"
	"github.com/airfit/coachengine/stores"
	"github.com/airfit/coachengine/transport"
)

// ContextProvider supplies a fresh context snapshot per turn. Failures
// degrade to an empty snapshot, never block the turn.
type ContextProvider interface {
	Snapshot(ctx context.Context) (models.ContextSnapshot, error)
}

// PersonaProvider supplies the user's coaching persona. Same
// degrade-gracefully contract as ContextProvider.
type PersonaProvider interface {
	Profile(ctx context.Context) (models.PersonaProfile, error)
}

// FunctionDispatcher executes a model-requested function and returns a
// structured result. A returned error is converted to an error-shaped
// result so the conversation can continue.
type FunctionDispatcher interface {
	Dispatch(ctx context.Context, call models.FunctionCall) (models.FunctionResult, error)
}

// Collaborators bundles the external dependencies of an Orchestrator.
// Traces, Contexts, Personas, and Dispatcher are optional.
type Collaborators struct {
	Secrets    *secrets.Store
	Client     *transport.Client
	Store      stores.TurnStore
	Traces     stores.TraceStore
	Contexts   ContextProvider
	Personas   PersonaProvider
	Dispatcher FunctionDispatcher
	Schemas    []models.FunctionSchema
}

// Orchestrator drives one conversation turn end to end. One orchestration is
// active per conversation at a time; starting a new turn cancels the prior
// in-flight stream for that conversation before the new one begins.
// Independent conversations run concurrently.
type Orchestrator struct {
	deps      Collaborators
	config    *ConfigSource
	assembler *prompt.Assembler
	intents   *intent.Parser
	logger    zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*turnHandle
}

type turnHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(config *ConfigSource, deps Collaborators, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:      deps,
		config:    config,
		assembler: prompt.New(logger),
		intents:   intent.NewParser(),
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		inflight:  make(map[string]*turnHandle),
	}
}

// StartTurn begins handling one user utterance and returns the event
// sequence for it. The user turn is persisted before this returns, so it
// survives any downstream failure. The returned channel is closed after the
// terminal end event.
func (o *Orchestrator) StartTurn(ctx context.Context, conversationID, utterance string) (<-chan Event, error) {
	if strings.TrimSpace(utterance) == "" {
		return nil, coacherr.New(coacherr.KindInvariantViolation, "utterance must not be empty")
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	o.cancelInflight(conversationID)

	runCtx, cancel := context.WithCancel(ctx)
	handle := &turnHandle{cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.inflight[conversationID] = handle
	o.mu.Unlock()

	cfg := o.config.Snapshot()

	userTurn := models.ChatTurn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        utterance,
		Timestamp:      time.Now().UTC(),
	}
	if err := o.deps.Store.SaveTurn(conversationID, userTurn); err != nil {
		cancel()
		o.releaseInflight(conversationID, handle)
		close(handle.done)
		return nil, coacherr.Wrap(coacherr.KindInvariantViolation, "persist user turn", err)
	}

	out := make(chan Event, 16)
	r := &turnRun{
		o:              o,
		ctx:            runCtx,
		cfg:            cfg,
		conversationID: conversationID,
		utterance:      utterance,
		userTurn:       userTurn,
		out:            out,
		started:        time.Now(),
		logger: o.logger.With().
			Str("conversation_id", conversationID).
			Str("provider", cfg.Provider).
			Str("model", cfg.Model).
			Logger(),
	}

	go func() {
		defer func() {
			close(out)
			cancel()
			o.releaseInflight(conversationID, handle)
			close(handle.done)
		}()
		r.run()
	}()

	return out, nil
}

// CancelTurn cancels the in-flight turn for a conversation, if any.
func (o *Orchestrator) CancelTurn(conversationID string) {
	o.cancelInflight(conversationID)
}

func (o *Orchestrator) cancelInflight(conversationID string) {
	o.mu.Lock()
	prev, ok := o.inflight[conversationID]
	o.mu.Unlock()
	if ok {
		prev.cancel()
		<-prev.done
	}
}

func (o *Orchestrator) releaseInflight(conversationID string, handle *turnHandle) {
	o.mu.Lock()
	if o.inflight[conversationID] == handle {
		delete(o.inflight, conversationID)
	}
	o.mu.Unlock()
}

// turnRun holds the state of one orchestration pass.
type turnRun struct {
	o              *Orchestrator
	ctx            context.Context
	cfg            Config
	conversationID string
	utterance      string
	userTurn       models.ChatTurn
	out            chan<- Event
	started        time.Time
	logger         zerolog.Logger
}

func (r *turnRun) run() {
	r.emit(turnPersistedEvent(&r.userTurn))

	if action := r.o.intents.Parse(r.utterance); action != nil {
		r.logger.Info().Str("action", action.Name).Msg("local intent matched, skipping model call")
		r.emit(localActionEvent(action))
		r.trace("local_action", "")
		r.emit(endEvent())
		return
	}

	bundle := r.assemble(r.utterance)

	text, call, ok := r.streamOnce(bundle)
	if !ok {
		return
	}

	if call == nil {
		if text != "" {
			r.persistAssistantTurn(text, nil, models.AnnotationNone)
		} else {
			r.logger.Warn().Msg("stream ended with no content")
		}
		r.trace("completed", "")
		r.emit(endEvent())
		return
	}

	// Function call path. The triggering turn is persisted before dispatch
	// so a dispatch failure can never lose it.
	if _, persisted := r.persistAssistantTurn(text, call, models.AnnotationNone); !persisted {
		return
	}
	r.emit(functionCallEvent(call))

	result := r.dispatch(*call)
	r.emit(functionDispatchedEvent(&result))

	resultTurn := models.ChatTurn{
		ID:             uuid.NewString(),
		ConversationID: r.conversationID,
		Role:           models.RoleToolResult,
		FunctionResult: &result,
		Timestamp:      time.Now().UTC(),
	}
	if err := r.o.deps.Store.SaveTurn(r.conversationID, resultTurn); err != nil {
		r.fail(coacherr.Wrap(coacherr.KindInvariantViolation, "persist tool result", err), "")
		return
	}
	r.emit(turnPersistedEvent(&resultTurn))

	// Follow-up pass: same persona and context, history now ends with the
	// tool result. A second function call here is logged and ignored; its
	// text is used as-is.
	followup := r.assemble("")
	text2, call2, ok := r.streamOnce(followup)
	if !ok {
		return
	}
	if call2 != nil {
		r.logger.Warn().Str("function", call2.Name).Msg("follow-up requested another function, not dispatching")
	}
	if text2 != "" {
		r.persistAssistantTurn(text2, nil, models.AnnotationNone)
	}
	r.trace("function_call", "")
	r.emit(endEvent())
}

// assemble gathers persona, context, and sanitized history, then builds the
// prompt bundle. userMessage is empty for the follow-up pass.
func (r *turnRun) assemble(userMessage string) models.PromptBundle {
	var persona models.PersonaProfile
	if r.o.deps.Personas != nil {
		p, err := r.o.deps.Personas.Profile(r.ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("persona unavailable, using defaults")
		} else {
			persona = p
		}
	}

	var snapshot models.ContextSnapshot
	if r.o.deps.Contexts != nil {
		s, err := r.o.deps.Contexts.Snapshot(r.ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("context unavailable, proceeding without live data")
		} else {
			snapshot = s
		}
	}

	history, err := r.o.deps.Store.FetchHistory(r.conversationID, r.cfg.HistoryLimit)
	if err != nil {
		r.logger.Warn().Err(err).Msg("history fetch failed, proceeding without history")
		history = nil
	}
	history = stores.SanitizeHistory(history)

	// The current utterance is already persisted; drop it from history so
	// the assembler appends it exactly once.
	if userMessage != "" && len(history) > 0 && history[len(history)-1].ID == r.userTurn.ID {
		history = history[:len(history)-1]
	}

	bundle := r.o.assembler.Build(persona, snapshot, history, r.o.deps.Schemas, userMessage)
	bundle.Temperature = r.cfg.Temperature
	bundle.MaxTokens = r.cfg.MaxTokens
	return bundle
}

// streamOnce runs one provider call and consumes its event stream. Text
// deltas are forwarded live. Returns the accumulated text and the function
// call if one was issued. A false ok means the stream failed; partial text
// was persisted and the error already surfaced.
func (r *turnRun) streamOnce(bundle models.PromptBundle) (string, *models.FunctionCall, bool) {
	adapter, err := NewAdapter(r.cfg.Provider, r.logger)
	if err != nil {
		r.fail(coacherr.Wrap(coacherr.KindProviderError, "create adapter", err), "")
		return "", nil, false
	}
	if r.cfg.BaseURL != "" {
		if custom, ok := adapter.(interface{ SetBaseURL(string) }); ok {
			custom.SetBaseURL(r.cfg.BaseURL)
		}
	}

	credential, err := r.o.deps.Secrets.Get(r.cfg.Provider)
	if err != nil {
		r.fail(coacherr.AsError(err), "")
		return "", nil, false
	}

	req, err := adapter.BuildRequest(bundle, r.cfg.Model, credential)
	if err != nil {
		r.fail(coacherr.Wrap(coacherr.KindProviderError, "build provider request", err), "")
		return "", nil, false
	}

	chunks, errs := r.o.deps.Client.Stream(r.ctx, req)
	events := normalize.New(adapter, r.logger).Run(r.ctx, chunks, errs)

	var buf strings.Builder
	var call *models.FunctionCall
	for evt := range events {
		switch evt.Type {
		case models.EventTextDelta:
			buf.WriteString(evt.Text)
			r.emit(textDeltaEvent(evt.Text))
		case models.EventFunctionCall:
			call = evt.Call
		case models.EventError:
			if coacherr.KindOf(evt.Err) == coacherr.KindUnauthorized {
				r.o.deps.Secrets.Invalidate(r.cfg.Provider)
			}
			r.fail(evt.Err, buf.String())
			return "", nil, false
		case models.EventEnd:
		}
	}
	return buf.String(), call, true
}

func (r *turnRun) dispatch(call models.FunctionCall) models.FunctionResult {
	if r.o.deps.Dispatcher == nil {
		r.logger.Warn().Str("function", call.Name).Msg("no function dispatcher configured")
		return models.ErrorResult(call.ID, call.Name, "function dispatch is not available")
	}
	result, err := r.o.deps.Dispatcher.Dispatch(r.ctx, call)
	if err != nil {
		r.logger.Warn().Err(err).Str("function", call.Name).Msg("function dispatch failed")
		return models.ErrorResult(call.ID, call.Name, err.Error())
	}
	return result
}

func (r *turnRun) persistAssistantTurn(text string, call *models.FunctionCall, annotation models.Annotation) (models.ChatTurn, bool) {
	turn := models.ChatTurn{
		ID:             uuid.NewString(),
		ConversationID: r.conversationID,
		Role:           models.RoleAssistant,
		Content:        text,
		FunctionCall:   call,
		Annotation:     annotation,
		Timestamp:      time.Now().UTC(),
	}
	if err := r.o.deps.Store.SaveTurn(r.conversationID, turn); err != nil {
		r.fail(coacherr.Wrap(coacherr.KindInvariantViolation, "persist assistant turn", err), "")
		return models.ChatTurn{}, false
	}
	r.emit(turnPersistedEvent(&turn))
	return turn, true
}

// fail surfaces a terminal error. Partial text is persisted flagged as
// incomplete, except on cancellation where unflushed text is discarded.
func (r *turnRun) fail(err *coacherr.Error, partial string) {
	kind := coacherr.KindOf(err)
	if partial != "" && kind != coacherr.KindCancelled {
		r.persistPartial(partial)
	}
	if kind == coacherr.KindCancelled {
		r.logger.Info().Msg("turn cancelled")
	} else {
		r.logger.Warn().Str("kind", string(kind)).Msg("turn failed")
	}
	r.trace("errored", string(kind))
	r.emit(erroredEvent(err))
	r.emit(endEvent())
}

func (r *turnRun) persistPartial(text string) {
	turn := models.ChatTurn{
		ID:             uuid.NewString(),
		ConversationID: r.conversationID,
		Role:           models.RoleAssistant,
		Content:        text,
		Annotation:     models.AnnotationPartial,
		Timestamp:      time.Now().UTC(),
	}
	if err := r.o.deps.Store.SaveTurn(r.conversationID, turn); err != nil {
		r.logger.Error().Err(err).Msg("failed to persist partial assistant turn")
		return
	}
	r.emit(turnPersistedEvent(&turn))
}

func (r *turnRun) trace(outcome, errorKind string) {
	if r.o.deps.Traces == nil {
		return
	}
	trace := &stores.TurnTrace{
		ConversationID: r.conversationID,
		TurnID:         r.userTurn.ID,
		Provider:       r.cfg.Provider,
		Model:          r.cfg.Model,
		Outcome:        outcome,
		ErrorKind:      errorKind,
		DurationMS:     time.Since(r.started).Milliseconds(),
	}
	if r.cfg.Temperature != nil {
		trace.Temperature = *r.cfg.Temperature
	}
	if err := r.o.deps.Traces.SaveTrace(trace); err != nil {
		r.logger.Warn().Err(err).Msg("failed to save turn trace")
	}
}

// emit delivers an event to the caller. After cancellation delivery is
// best-effort so terminal events still reach a listening caller without
// blocking shutdown.
func (r *turnRun) emit(evt Event) {
	select {
	case r.out <- evt:
	case <-r.ctx.Done():
		select {
		case r.out <- evt:
		default:
		}
	}
}
