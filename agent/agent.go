// Package agent implements the conversational orchestration loop: append the
// user's message, then alternate reasoning and tool dispatch until the model
// answers, the step budget runs out, or the turn fails. The loop owns turn
// state; tools and the model stay stateless.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/internal/util"
	"github.com/querychat/querychat/logging"
	"github.com/querychat/querychat/metrics"
	"github.com/querychat/querychat/model"
	"github.com/querychat/querychat/tool"
	"github.com/querychat/querychat/trace"
)

// State names the loop's position within a turn. A turn starts in
// StateAwaitingInput, moves to StateReasoning for each model step, detours
// through StateDispatchingTool per tool call, and ends in StateTerminating.
type State string

const (
	StateAwaitingInput   State = "awaiting_input"
	StateReasoning       State = "reasoning"
	StateDispatchingTool State = "dispatching_tool"
	StateTerminating     State = "terminating"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	// OutcomeAnswered means the model produced a final answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeStepLimit means the step budget ran out; the user receives a
	// designed apology answer, not an error.
	OutcomeStepLimit Outcome = "step_limit"
	// OutcomeFailed means a fatal error (reasoning or storage) ended the turn.
	OutcomeFailed Outcome = "failed"
	// OutcomeCanceled means the caller's context was canceled at a step boundary.
	OutcomeCanceled Outcome = "canceled"
)

// apologyAnswer is stored and returned when a turn cannot produce a real
// answer. The conversation stays coherent: the thread history always ends
// with an assistant message.
const apologyAnswer = "I'm sorry, I wasn't able to complete that request. Please try again or rephrase your question."

// InstructionsFunc renders the system instructions for one reasoning step.
type InstructionsFunc func(ctx context.Context) (string, error)

// Options configure an Agent.
type Options struct {
	// MaxSteps bounds reasoning steps per turn. <=0 uses 10.
	MaxSteps int

	// HistoryWindow bounds how many stored messages each model request
	// sees. Storage is never truncated, only the model's view. <=0 means
	// the full history.
	HistoryWindow int

	// StorageRetries is how many times a failed append is retried before
	// the turn degrades. <0 uses 2.
	StorageRetries int

	// Instructions renders the system prompt. Nil uses empty instructions.
	Instructions InstructionsFunc

	// Tracer receives per-turn traces. Nil disables tracing. Trace
	// failures never fail the turn.
	Tracer trace.Store

	// Logger receives loop telemetry. Nil uses the no-op logger.
	Logger logging.Logger
}

// Agent drives conversations. Safe for concurrent use; turns on the same
// thread are serialized, turns on different threads proceed in parallel.
type Agent struct {
	model    model.Model
	store    core.ThreadStore
	registry *tool.Registry
	executor *tool.Executor
	opts     Options

	lockMu      sync.Mutex
	threadLocks map[string]*threadLock
}

// New creates an Agent. The registry is frozen here: the tool set visible to
// the first turn is the tool set visible to every turn.
func New(m model.Model, store core.ThreadStore, registry *tool.Registry, executor *tool.Executor, optFns ...func(o *Options)) *Agent {
	opts := Options{MaxSteps: 10, StorageRetries: 2}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 10
	}
	if opts.StorageRetries < 0 {
		opts.StorageRetries = 2
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	registry.Freeze()
	return &Agent{
		model:       m,
		store:       store,
		registry:    registry,
		executor:    executor,
		opts:        opts,
		threadLocks: make(map[string]*threadLock),
	}
}

// Response is what a finished turn hands back to the caller.
type Response struct {
	// Text is the assistant's answer, or the apology answer for turns
	// that ended without one.
	Text string

	// Artifacts are the files successful tool calls published this turn.
	// Every entry was durably stored before it got here.
	Artifacts []core.Artifact

	// Outcome classifies the termination.
	Outcome Outcome

	// Steps is how many reasoning steps the turn consumed.
	Steps int

	// Degraded is true when the answer could not be fully persisted; the
	// conversation may be missing this turn's tail on the next load.
	Degraded bool

	// Err carries the fatal error for OutcomeFailed and OutcomeCanceled.
	Err error
}

// threadLock serializes turns on one thread. Entries are reference counted
// so the table shrinks again once the last waiter releases; the map does not
// grow with every thread id the process ever saw.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

func (a *Agent) acquireThread(threadID string) *threadLock {
	a.lockMu.Lock()
	l, ok := a.threadLocks[threadID]
	if !ok {
		l = &threadLock{}
		a.threadLocks[threadID] = l
	}
	l.refs++
	a.lockMu.Unlock()

	l.mu.Lock()
	return l
}

func (a *Agent) releaseThread(threadID string, l *threadLock) {
	l.mu.Unlock()

	a.lockMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(a.threadLocks, threadID)
	}
	a.lockMu.Unlock()
}

// Chat runs one conversational turn. It blocks until the turn terminates;
// cancellation of ctx is observed at step boundaries, so an in-flight tool
// invocation finishes (or times out) before the loop stops.
func (a *Agent) Chat(ctx context.Context, threadID, text string) (*Response, error) {
	if threadID == "" {
		return nil, fmt.Errorf("agent: thread id is required")
	}

	lock := a.acquireThread(threadID)
	defer a.releaseThread(threadID, lock)

	start := time.Now()
	turnID := core.NewID()
	logger := a.opts.Logger

	logger.Info("turn.start", "thread_id", threadID, "turn_id", turnID)

	resp, turnMessages := a.runTurn(ctx, threadID, turnID, text)

	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	metrics.TurnTotal.WithLabelValues(string(resp.Outcome)).Inc()
	metrics.StepsPerTurn.Observe(float64(resp.Steps))

	a.recordTrace(threadID, turnMessages, start)

	logger.Info("turn.done",
		"thread_id", threadID,
		"turn_id", turnID,
		"outcome", string(resp.Outcome),
		"steps", resp.Steps,
		"degraded", resp.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.Outcome == OutcomeFailed || resp.Outcome == OutcomeCanceled {
		return resp, resp.Err
	}
	return resp, nil
}

// runTurn executes the state machine for one turn and returns the finished
// response plus every message the turn appended (for tracing).
func (a *Agent) runTurn(ctx context.Context, threadID, turnID, text string) (*Response, []core.Message) {
	logger := a.opts.Logger
	turn := newTurn(threadID, turnID)

	// AWAITING_INPUT: persist the user message. Without it the thread
	// would answer a question it never recorded, so failure is fatal.
	userMsg := core.NewUserMessage(text)
	if err := a.persistAppend(ctx, threadID, userMsg); err != nil {
		storageErr := asStorageError("append", threadID, err)
		return Assemble(turn, OutcomeFailed, apologyAnswer, storageErr), nil
	}
	turn.record(userMsg)

	history, err := a.loadHistory(ctx, threadID)
	if err != nil {
		storageErr := asStorageError("load", threadID, err)
		return Assemble(turn, OutcomeFailed, apologyAnswer, storageErr), turn.messages
	}

	limiter := core.NewStepLimiter(a.opts.MaxSteps)
	catalog := a.registry.Catalog()

	for {
		// Step boundary: cancellation is observed here, never mid-dispatch.
		if err := ctx.Err(); err != nil {
			turn.steps = limiter.Count()
			return Assemble(turn, OutcomeCanceled, apologyAnswer, err), turn.messages
		}
		if err := limiter.Increment(); err != nil {
			logger.Warn("turn.step_limit", "thread_id", threadID, "turn_id", turnID, "max_steps", a.opts.MaxSteps)
			if !a.appendBestEffort(ctx, threadID, core.NewAssistantMessage(apologyAnswer), turn) {
				turn.degraded = true
			}
			// The rejected increment did not run a step.
			turn.steps = limiter.Count() - 1
			return Assemble(turn, OutcomeStepLimit, apologyAnswer, nil), turn.messages
		}

		// REASONING
		instructions, err := a.instructions(ctx)
		if err != nil {
			turn.steps = limiter.Count()
			return Assemble(turn, OutcomeFailed, apologyAnswer, &core.ReasoningError{Err: err}), turn.messages
		}
		decision, err := a.model.Decide(ctx, model.Request{
			Instructions: instructions,
			History:      a.window(history),
			Tools:        catalog,
		})
		if err != nil {
			logger.Error("turn.reasoning_failed", "thread_id", threadID, "turn_id", turnID, "error", err.Error())
			if !a.appendBestEffort(ctx, threadID, core.NewAssistantMessage(apologyAnswer), turn) {
				turn.degraded = true
			}
			turn.steps = limiter.Count()
			return Assemble(turn, OutcomeFailed, apologyAnswer, &core.ReasoningError{Err: err}), turn.messages
		}

		if !decision.IsToolCall() {
			// TERMINATING: final answer.
			answer := decision.Text
			assistantMsg := core.NewAssistantMessage(answer)
			if !a.appendBestEffort(ctx, threadID, assistantMsg, turn) {
				turn.degraded = true
			}
			turn.steps = limiter.Count()
			return Assemble(turn, OutcomeAnswered, answer, nil), turn.messages
		}

		// DISPATCHING_TOOL
		call := *decision.ToolCall
		if call.ID == "" {
			call.ID = core.NewID()
		}
		result := a.dispatch(ctx, threadID, turnID, call, turn)

		// A turn canceled mid-dispatch discards the in-flight result: the
		// thread must not record a call whose answer the user never saw.
		if err := ctx.Err(); err != nil {
			turn.steps = limiter.Count()
			return Assemble(turn, OutcomeCanceled, apologyAnswer, err), turn.messages
		}

		callMsg := core.NewToolCallMessage(call)
		resultMsg := core.NewToolResultMessage(result)
		if !a.appendBestEffort(ctx, threadID, callMsg, turn) || !a.appendBestEffort(ctx, threadID, resultMsg, turn) {
			turn.degraded = true
		}
		history = append(history, callMsg, resultMsg)
		if result.OK() && result.Artifact != nil {
			turn.artifacts = append(turn.artifacts, *result.Artifact)
			metrics.ArtifactsCreated.WithLabelValues(string(result.Artifact.Kind)).Inc()
		}
	}
}

// dispatch runs one tool call, consulting the per-turn dedup cache first.
// Only pure tools are served from cache: an external write repeated by the
// model must actually run again (its id-derived naming keeps that safe).
func (a *Agent) dispatch(ctx context.Context, threadID, turnID string, call core.ToolCall, turn *turnState) core.ToolResult {
	fingerprint := util.Fingerprint(call.Name, call.Arguments)

	if t, err := a.registry.Resolve(call.Name); err == nil && t.Effect() == tool.EffectPure {
		if cached, ok := turn.dedup[fingerprint]; ok {
			a.opts.Logger.Debug("turn.dedup_hit", "thread_id", threadID, "turn_id", turnID, "tool", call.Name)
			cached.CallID = call.ID
			return cached
		}
	}

	start := time.Now()
	result := a.executor.Execute(ctx, threadID, turnID, call)
	metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	metrics.ToolTotal.WithLabelValues(call.Name, string(result.Status)).Inc()

	// Pure results are cached whether they succeeded or failed, so a model
	// that repeats an identical failing call gets the same answer back
	// instead of burning steps. Timeouts are environmental and stay
	// retryable.
	if result.Status != core.ToolStatusTimeout {
		if t, err := a.registry.Resolve(call.Name); err == nil && t.Effect() == tool.EffectPure {
			turn.dedup[fingerprint] = result
		}
	}
	return result
}

func (a *Agent) instructions(ctx context.Context) (string, error) {
	if a.opts.Instructions == nil {
		return "", nil
	}
	return a.opts.Instructions(ctx)
}

// window returns the slice of history the model sees. Storage keeps
// everything; only the model's view is truncated.
func (a *Agent) window(history []core.Message) []core.Message {
	w := a.opts.HistoryWindow
	if w <= 0 || len(history) <= w {
		return history
	}
	return history[len(history)-w:]
}

// loadHistory retries transient load failures with the same bounded policy
// as appends. Exhausting the retries is fatal to the turn.
func (a *Agent) loadHistory(ctx context.Context, threadID string) ([]core.Message, error) {
	var err error
	for attempt := 0; attempt <= a.opts.StorageRetries; attempt++ {
		if attempt > 0 {
			metrics.StorageRetries.Inc()
		}
		var history []core.Message
		if history, err = a.store.Load(ctx, threadID); err == nil {
			return history, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, err
}

// persistAppend retries transient append failures before giving up.
func (a *Agent) persistAppend(ctx context.Context, threadID string, msg core.Message) error {
	var err error
	for attempt := 0; attempt <= a.opts.StorageRetries; attempt++ {
		if attempt > 0 {
			metrics.StorageRetries.Inc()
		}
		if err = a.store.Append(ctx, threadID, msg); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// appendBestEffort persists a mid-turn message, reporting success. A false
// return degrades the turn rather than failing it: the user still gets the
// answer that was computed.
func (a *Agent) appendBestEffort(ctx context.Context, threadID string, msg core.Message, turn *turnState) bool {
	if err := a.persistAppend(ctx, threadID, msg); err != nil {
		a.opts.Logger.Error("turn.append_degraded",
			"thread_id", threadID, "turn_id", turn.turnID, "role", string(msg.Role), "error", err.Error())
		turn.record(msg)
		return false
	}
	turn.record(msg)
	return true
}

func (a *Agent) recordTrace(threadID string, messages []core.Message, start time.Time) {
	if a.opts.Tracer == nil || len(messages) == 0 {
		return
	}
	traces := trace.FromMessages(threadID, messages, start.UTC(), time.Now().UTC())
	traceCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.opts.Tracer.Add(traceCtx, traces); err != nil {
		a.opts.Logger.Warn("turn.trace_failed", "thread_id", threadID, "error", err.Error())
	}
}

func asStorageError(op, threadID string, err error) error {
	var storageErr *core.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return core.NewStorageError(op, threadID, err)
}
