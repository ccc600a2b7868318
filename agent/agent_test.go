package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querychat/querychat/artifact"
	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/internal/testutil"
	"github.com/querychat/querychat/memory"
	"github.com/querychat/querychat/model"
	"github.com/querychat/querychat/tool"
)

var echoSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"text": map[string]any{"type": "string"},
	},
	"required": []string{"text"},
}

// testHarness bundles the collaborators a loop test needs.
type testHarness struct {
	agent     *Agent
	store     *memory.InMemoryStore
	artifacts *artifact.InMemoryStore
	echoCalls *atomic.Int64
	boomCalls *atomic.Int64
	fileCalls *atomic.Int64
}

func newHarness(t *testing.T, m model.Model, optFns ...func(o *Options)) *testHarness {
	t.Helper()
	h := &testHarness{
		store:     memory.NewInMemoryStore(),
		artifacts: artifact.NewInMemoryStore(),
		echoCalls: &atomic.Int64{},
		boomCalls: &atomic.Int64{},
		fileCalls: &atomic.Int64{},
	}

	registry := tool.NewRegistry()
	registry.MustRegister(tool.NewFunctionTool("echo", "Echo the input text.", echoSchema, tool.EffectPure,
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			h.echoCalls.Add(1)
			return args["text"], nil
		}))
	registry.MustRegister(tool.NewFunctionTool("boom", "Always fails.",
		map[string]any{"type": "object", "properties": map[string]any{}}, tool.EffectPure,
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			h.boomCalls.Add(1)
			return nil, errors.New("backend unavailable")
		}))
	registry.MustRegister(tool.NewFunctionTool("make_file", "Publish a file.", echoSchema, tool.EffectExternalWrite,
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			h.fileCalls.Add(1)
			name := fmt.Sprintf("file_%s.csv", tc.CallID()[:8])
			art, err := tc.PublishArtifact(core.ArtifactCSV, name, []byte(args["text"].(string)))
			if err != nil {
				return nil, err
			}
			return art.DownloadRef, nil
		}))

	executor := tool.NewExecutor(registry, h.artifacts)
	h.agent = New(m, h.store, registry, executor, optFns...)
	return h
}

func TestChat_DirectAnswer(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("There were 4 escalations.")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "how many escalations?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, "There were 4 escalations.", resp.Text)
	assert.Equal(t, 1, resp.Steps)
	assert.False(t, resp.Degraded)

	history, err := h.store.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
}

func TestChat_ToolCallThenAnswer(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("echo", map[string]any{"text": "42"})).
		EnqueueText("The answer is 42.")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, 2, resp.Steps)

	history, err := h.store.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, core.RoleUser, history[0].Role)
	require.NotNil(t, history[1].ToolCall)
	assert.Equal(t, "echo", history[1].ToolCall.Name)
	require.NotNil(t, history[2].ToolResult)
	assert.Equal(t, history[1].ToolCall.ID, history[2].ToolResult.CallID)
	assert.True(t, history[2].ToolResult.OK())
	assert.Equal(t, core.RoleAssistant, history[3].Role)
}

func TestChat_ToolFailureIsData(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("boom", map[string]any{})).
		EnqueueText("I could not reach the backend.")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "try the thing")
	require.NoError(t, err, "a failing tool must not fail the turn")
	assert.Equal(t, OutcomeAnswered, resp.Outcome)

	history, _ := h.store.Load(context.Background(), "thread-1")
	require.Len(t, history, 4)
	require.NotNil(t, history[2].ToolResult)
	assert.Equal(t, core.ToolStatusFailure, history[2].ToolResult.Status)
	assert.Contains(t, history[2].ToolResult.Error, "backend unavailable")
}

func TestChat_StepLimit(t *testing.T) {
	m := model.NewScriptedModel()
	for i := 0; i < 10; i++ {
		m.EnqueueToolCall(core.NewToolCall("echo", map[string]any{"text": fmt.Sprintf("%d", i)}))
	}
	h := newHarness(t, m, func(o *Options) { o.MaxSteps = 3 })

	resp, err := h.agent.Chat(context.Background(), "thread-1", "loop forever")
	require.NoError(t, err, "step limit is designed termination, not an error")
	assert.Equal(t, OutcomeStepLimit, resp.Outcome)
	assert.Equal(t, 3, resp.Steps)
	assert.NotEmpty(t, resp.Text)

	history, _ := h.store.Load(context.Background(), "thread-1")
	last := history[len(history)-1]
	assert.Equal(t, core.RoleAssistant, last.Role, "thread must end with an assistant message")
	assert.Equal(t, resp.Text, last.Text)
}

func TestChat_DedupSameCallWithinTurn(t *testing.T) {
	sameArgs := map[string]any{"text": "hello"}
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("echo", sameArgs)).
		EnqueueToolCall(core.NewToolCall("echo", map[string]any{"text": "hello"})).
		EnqueueToolCall(core.NewToolCall("echo", map[string]any{"text": "different"})).
		EnqueueText("done")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "echo twice")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, int64(2), h.echoCalls.Load(), "identical pure calls must be served from cache")

	// All three results still appear in the conversation.
	history, _ := h.store.Load(context.Background(), "thread-1")
	results := 0
	for _, msg := range history {
		if msg.ToolResult != nil {
			results++
			assert.True(t, msg.ToolResult.OK())
		}
	}
	assert.Equal(t, 3, results)
}

func TestChat_DedupRepeatedFailingCall(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("boom", map[string]any{})).
		EnqueueToolCall(core.NewToolCall("boom", map[string]any{})).
		EnqueueText("giving up")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "retry the thing")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, int64(1), h.boomCalls.Load(), "an identical failing pure call is served from cache")
}

func TestChat_ExternalWriteNeverDeduped(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("make_file", map[string]any{"text": "same"})).
		EnqueueToolCall(core.NewToolCall("make_file", map[string]any{"text": "same"})).
		EnqueueText("done")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "export twice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.fileCalls.Load())
	assert.Len(t, resp.Artifacts, 2)
}

func TestChat_ArtifactsAttachedToResponse(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("make_file", map[string]any{"text": "a,b\n1,2"})).
		EnqueueText("Export ready.")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "export it")
	require.NoError(t, err)
	require.Len(t, resp.Artifacts, 1)
	art := resp.Artifacts[0]
	assert.Equal(t, core.ArtifactCSV, art.Kind)

	// The referenced artifact is durably readable.
	data, _, err := h.artifacts.Get(context.Background(), "thread-1", art.ID)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2", string(data))
}

func TestChat_HistoryWindowBoundsModelView(t *testing.T) {
	m := model.NewScriptedModel()
	for i := 0; i < 3; i++ {
		m.EnqueueText(fmt.Sprintf("answer %d", i))
	}
	h := newHarness(t, m, func(o *Options) { o.HistoryWindow = 2 })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.agent.Chat(ctx, "thread-1", fmt.Sprintf("question %d", i))
		require.NoError(t, err)
	}

	reqs := m.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[2].History, 2, "model view is windowed")

	// Storage keeps the full history.
	history, _ := h.store.Load(ctx, "thread-1")
	assert.Len(t, history, 6)
}

func TestChat_PriorHistoryVisibleToModel(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("as I said, 4")
	h := newHarness(t, m)

	testutil.NewThreadBuilder().
		User("how many escalations?").
		Assistant("There were 4 escalations.").
		Seed(t, h.store, "thread-1")

	_, err := h.agent.Chat(context.Background(), "thread-1", "repeat that")
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].History, 3)
	assert.Equal(t, "how many escalations?", reqs[0].History[0].Text)
	assert.Equal(t, "repeat that", reqs[0].History[2].Text)
}

func TestChat_ReasoningErrorIsFatal(t *testing.T) {
	m := model.NewScriptedModel().EnqueueError(errors.New("provider 500"))
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "hello")
	require.Error(t, err)
	assert.True(t, core.IsReasoningError(err))
	assert.Equal(t, OutcomeFailed, resp.Outcome)
	assert.NotEmpty(t, resp.Text, "user still gets an apology answer")

	history, _ := h.store.Load(context.Background(), "thread-1")
	last := history[len(history)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
}

func TestChat_CancellationAtStepBoundary(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("never reached")
	h := newHarness(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := h.agent.Chat(ctx, "thread-1", "hello")
	require.Error(t, err)
	assert.Equal(t, OutcomeCanceled, resp.Outcome)
	assert.Equal(t, 0, m.CallCount(), "no reasoning after cancellation")
}

// flakyStore fails every append after the first n.
type flakyStore struct {
	core.ThreadStore
	allowed int
	seen    int
}

func (f *flakyStore) Append(ctx context.Context, threadID string, msg core.Message) error {
	f.seen++
	if f.seen > f.allowed {
		return core.NewStorageError("append", threadID, errors.New("disk full"))
	}
	return f.ThreadStore.Append(ctx, threadID, msg)
}

func TestChat_DegradesWhenTailAppendFails(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("the answer")
	h := newHarness(t, m)

	store := &flakyStore{ThreadStore: h.store, allowed: 1}
	h.agent.store = store

	resp, err := h.agent.Chat(context.Background(), "thread-1", "hello")
	require.NoError(t, err, "a lost tail append degrades, it does not fail")
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, "the answer", resp.Text)
	assert.True(t, resp.Degraded)
}

func TestChat_UserAppendFailureIsFatal(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("never")
	h := newHarness(t, m)
	h.agent.store = &flakyStore{ThreadStore: h.store, allowed: 0}

	resp, err := h.agent.Chat(context.Background(), "thread-1", "hello")
	require.Error(t, err)
	assert.True(t, core.IsStorageError(err))
	assert.Equal(t, OutcomeFailed, resp.Outcome)
	assert.Equal(t, 0, m.CallCount())
}

func TestChat_CancellationMidDispatchDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emptySchema := map[string]any{"type": "object", "properties": map[string]any{}}

	registry := tool.NewRegistry()
	registry.MustRegister(tool.NewFunctionTool("pull_plug", "Cancels the turn from inside.", emptySchema, tool.EffectPure,
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			cancel()
			return "too late", nil
		}))

	store := memory.NewInMemoryStore()
	executor := tool.NewExecutor(registry, artifact.NewInMemoryStore())
	m := model.NewScriptedModel().EnqueueToolCall(core.NewToolCall("pull_plug", map[string]any{}))
	a := New(m, store, registry, executor)

	resp, err := a.Chat(ctx, "thread-1", "hello")
	require.Error(t, err)
	assert.Equal(t, OutcomeCanceled, resp.Outcome)

	// The in-flight result is discarded, not recorded.
	history, loadErr := store.Load(context.Background(), "thread-1")
	require.NoError(t, loadErr)
	require.Len(t, history, 1)
	assert.Equal(t, core.RoleUser, history[0].Role)
}

func TestChat_ThreadLockTableShrinks(t *testing.T) {
	m := model.NewScriptedModel()
	for i := 0; i < 5; i++ {
		m.EnqueueText("ok")
	}
	h := newHarness(t, m)

	for i := 0; i < 5; i++ {
		_, err := h.agent.Chat(context.Background(), fmt.Sprintf("thread-%d", i), "hi")
		require.NoError(t, err)
	}

	h.agent.lockMu.Lock()
	defer h.agent.lockMu.Unlock()
	assert.Empty(t, h.agent.threadLocks, "released thread locks must not linger")
}

// flakyLoadStore fails the first n loads, then delegates.
type flakyLoadStore struct {
	core.ThreadStore
	failures int
	loads    int
}

func (f *flakyLoadStore) Load(ctx context.Context, threadID string) ([]core.Message, error) {
	f.loads++
	if f.loads <= f.failures {
		return nil, core.NewStorageError("load", threadID, errors.New("connection reset"))
	}
	return f.ThreadStore.Load(ctx, threadID)
}

func TestChat_LoadRetriedBeforeFailing(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("the answer")
	h := newHarness(t, m)
	store := &flakyLoadStore{ThreadStore: h.store, failures: 1}
	h.agent.store = store

	resp, err := h.agent.Chat(context.Background(), "thread-1", "hello")
	require.NoError(t, err, "a transient load failure is retried")
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, 2, store.loads)
}

func TestChat_LoadExhaustionIsFatal(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("never")
	h := newHarness(t, m)
	store := &flakyLoadStore{ThreadStore: h.store, failures: 100}
	h.agent.store = store

	resp, err := h.agent.Chat(context.Background(), "thread-1", "hello")
	require.Error(t, err)
	assert.True(t, core.IsStorageError(err))
	assert.Equal(t, OutcomeFailed, resp.Outcome)
	assert.Equal(t, 3, store.loads, "default policy is one attempt plus two retries")
	assert.Equal(t, 0, m.CallCount())
}

func TestChat_UnknownToolKeepsLoopAlive(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("no_such_tool", map[string]any{})).
		EnqueueText("I don't have that capability.")
	h := newHarness(t, m)

	resp, err := h.agent.Chat(context.Background(), "thread-1", "do the impossible")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)

	history, _ := h.store.Load(context.Background(), "thread-1")
	require.NotNil(t, history[2].ToolResult)
	assert.Equal(t, core.ToolStatusFailure, history[2].ToolResult.Status)
}

func TestChat_TimeoutNotCachedAndRetried(t *testing.T) {
	var invocations atomic.Int64
	emptySchema := map[string]any{"type": "object", "properties": map[string]any{}}

	registry := tool.NewRegistry()
	registry.MustRegister(tool.NewFunctionTool("flaky_fetch", "Slow once, fast after.", emptySchema, tool.EffectPure,
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			if invocations.Add(1) == 1 {
				<-tc.Context().Done()
				return nil, tc.Context().Err()
			}
			return "data", nil
		}))

	store := memory.NewInMemoryStore()
	executor := tool.NewExecutor(registry, artifact.NewInMemoryStore(), func(o *tool.ExecutorOptions) {
		o.Timeout = 30 * time.Millisecond
	})
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("flaky_fetch", map[string]any{})).
		EnqueueToolCall(core.NewToolCall("flaky_fetch", map[string]any{})).
		EnqueueText("got it")
	a := New(m, store, registry, executor)

	resp, err := a.Chat(context.Background(), "thread-1", "fetch the data")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, resp.Outcome)
	assert.Equal(t, int64(2), invocations.Load(), "a timed-out call must run again, not come from cache")

	history, _ := store.Load(context.Background(), "thread-1")
	var statuses []core.ToolStatus
	for _, msg := range history {
		if msg.ToolResult != nil {
			statuses = append(statuses, msg.ToolResult.Status)
		}
	}
	assert.Equal(t, []core.ToolStatus{core.ToolStatusTimeout, core.ToolStatusSuccess}, statuses)
}

// rendezvousModel calls the meet tool once per thread, then answers.
type rendezvousModel struct{}

func (rendezvousModel) Decide(_ context.Context, req model.Request) (model.Decision, error) {
	for _, msg := range req.History {
		if msg.ToolResult != nil {
			return model.Decision{Text: "met"}, nil
		}
	}
	call := core.NewToolCall("meet", map[string]any{})
	return model.Decision{ToolCall: &call}, nil
}

func (rendezvousModel) Info() model.Info {
	return model.Info{Name: "rendezvous", Provider: "test"}
}

func TestChat_DistinctThreadsRunInParallel(t *testing.T) {
	// Both turns must be inside the tool at the same time; if distinct
	// threads were serialized the first would wait out the rendezvous
	// alone and fail it.
	var entered atomic.Int64
	barrier := make(chan struct{})
	emptySchema := map[string]any{"type": "object", "properties": map[string]any{}}

	registry := tool.NewRegistry()
	registry.MustRegister(tool.NewFunctionTool("meet", "Waits for a peer.", emptySchema, tool.EffectPure,
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			if entered.Add(1) == 2 {
				close(barrier)
			}
			select {
			case <-barrier:
				return "both arrived", nil
			case <-time.After(5 * time.Second):
				return nil, errors.New("peer never arrived")
			}
		}))

	store := memory.NewInMemoryStore()
	executor := tool.NewExecutor(registry, artifact.NewInMemoryStore())
	a := New(rendezvousModel{}, store, registry, executor)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := a.Chat(context.Background(), fmt.Sprintf("thread-%d", n), "meet the peer")
			assert.NoError(t, err)
			outcomes[n] = resp.Outcome
		}(i)
	}
	wg.Wait()

	for n, threadID := range []string{"thread-0", "thread-1"} {
		assert.Equal(t, OutcomeAnswered, outcomes[n])
		history, err := store.Load(context.Background(), threadID)
		require.NoError(t, err)
		for _, msg := range history {
			if msg.ToolResult != nil {
				assert.True(t, msg.ToolResult.OK(), "thread %s rendezvous failed", threadID)
			}
		}
	}
}

func TestChat_SameThreadTurnsSerialized(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueText("first answer").
		EnqueueText("second answer")
	h := newHarness(t, m)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := h.agent.Chat(ctx, "thread-1", fmt.Sprintf("question %d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Either turn may have gone first, but turns never interleave: each
	// user message is directly followed by its assistant answer.
	history, err := h.store.Load(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, core.RoleUser, history[2].Role)
	assert.Equal(t, core.RoleAssistant, history[3].Role)
}

func TestChat_EmptyThreadIDRejected(t *testing.T) {
	m := model.NewScriptedModel()
	h := newHarness(t, m)
	_, err := h.agent.Chat(context.Background(), "", "hello")
	assert.Error(t, err)
}

func TestChat_InstructionsReachModel(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("ok")
	h := newHarness(t, m, func(o *Options) {
		o.Instructions = func(context.Context) (string, error) {
			return "You are a postgresql expert.", nil
		}
	})

	_, err := h.agent.Chat(context.Background(), "thread-1", "hello")
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You are a postgresql expert.", reqs[0].Instructions)
	assert.NotEmpty(t, reqs[0].Tools, "tool catalog travels with every request")
}
