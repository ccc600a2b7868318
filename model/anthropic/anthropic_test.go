package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/model"
)

func TestDecodeToolArgs(t *testing.T) {
	args, err := decodeToolArgs(json.RawMessage(`{"sql": "select 1", "limit": 10}`))
	require.NoError(t, err)
	assert.Equal(t, "select 1", args["sql"])
	assert.Equal(t, float64(10), args["limit"])
}

func TestDecodeToolArgs_EmptyInput(t *testing.T) {
	args, err := decodeToolArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = decodeToolArgs(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestDecodeToolArgs_InvalidJSON(t *testing.T) {
	_, err := decodeToolArgs(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestBuildMessages_ToolInteraction(t *testing.T) {
	call := core.NewToolCall("execute_sql", map[string]any{"sql": "select 1"})
	history := []core.Message{
		core.NewUserMessage("how many rows?"),
		core.NewToolCallMessage(call),
		core.NewToolResultMessage(core.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Status: core.ToolStatusSuccess,
			Payload: map[string]any{
				"row_count": 1,
			},
		}),
		core.NewAssistantMessage("One row."),
	}

	messages := buildMessages(history)
	require.Len(t, messages, 4)
	assert.Equal(t, "user", string(messages[0].Role))
	assert.Equal(t, "assistant", string(messages[1].Role))
	assert.Equal(t, "user", string(messages[2].Role), "tool results travel as user messages")
	assert.Equal(t, "assistant", string(messages[3].Role))
}

func TestBuildTools(t *testing.T) {
	defs := []model.ToolDefinition{{
		Name:        "execute_sql",
		Description: "Run a read-only query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql": map[string]any{"type": "string"},
			},
			"required": []string{"sql"},
		},
	}}

	tools := buildTools(defs)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "execute_sql", tools[0].OfTool.Name)
	assert.Equal(t, []string{"sql"}, tools[0].OfTool.InputSchema.Required)
}
