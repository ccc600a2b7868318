package querychat

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querychat/querychat/agent"
	"github.com/querychat/querychat/config"
	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/model"
	"github.com/querychat/querychat/tool"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Export.Dir = t.TempDir()
	return cfg
}

func TestNew_DefaultsAreUsable(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("hello back")

	qc, err := New(context.Background(), func(o *Options) {
		o.Config = testConfig(t)
		o.Model = m
	})
	require.NoError(t, err)
	defer qc.Close()

	resp, err := qc.Chat(context.Background(), "thread-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, agent.OutcomeAnswered, resp.Outcome)
	assert.Equal(t, "hello back", resp.Text)
}

func TestNew_UnknownProviderRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Provider = "carrierpigeon"

	_, err := New(context.Background(), func(o *Options) {
		o.Config = cfg
	})
	assert.Error(t, err)
}

func TestNew_ExtraToolsReachTheModel(t *testing.T) {
	m := model.NewScriptedModel().
		EnqueueToolCall(core.NewToolCall("ping", map[string]any{})).
		EnqueueText("pong")

	ping := tool.NewFunctionTool("ping", "Liveness probe.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		tool.EffectPure,
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return "pong", nil })

	qc, err := New(context.Background(), func(o *Options) {
		o.Config = testConfig(t)
		o.Model = m
		o.ExtraTools = []tool.Tool{ping}
	})
	require.NoError(t, err)
	defer qc.Close()

	resp, err := qc.Chat(context.Background(), "thread-1", "are you alive?")
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Text)

	reqs := m.Requests()
	require.NotEmpty(t, reqs)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "ping", reqs[0].Tools[0].Name)
}

func TestWriteMetrics_ReportsTurnCounters(t *testing.T) {
	m := model.NewScriptedModel().EnqueueText("ok")
	qc, err := New(context.Background(), func(o *Options) {
		o.Config = testConfig(t)
		o.Model = m
	})
	require.NoError(t, err)
	defer qc.Close()

	_, err = qc.Chat(context.Background(), "thread-1", "hello")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, qc.WriteMetrics(&buf))
	assert.Contains(t, buf.String(), "querychat_turn_total")
}

func TestMetricsHandler_ServesTextFormat(t *testing.T) {
	qc, err := New(context.Background(), func(o *Options) {
		o.Config = testConfig(t)
		o.Model = model.NewScriptedModel()
	})
	require.NoError(t, err)
	defer qc.Close()

	rec := httptest.NewRecorder()
	qc.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "querychat_")
}

func TestClose_IsSafeToRepeat(t *testing.T) {
	qc, err := New(context.Background(), func(o *Options) {
		o.Config = testConfig(t)
		o.Model = model.NewScriptedModel()
	})
	require.NoError(t, err)
	qc.Close()
	qc.Close()
}
