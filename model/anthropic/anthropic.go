// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.2,
		MaxTokens:   4096,
	}
}

// Decide performs one reasoning step via the Messages API. When the
// completion carries several tool_use blocks only the first is kept.
func (m *Model) Decide(ctx context.Context, req model.Request) (model.Decision, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.History),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.Decision{}, fmt.Errorf("anthropic api error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args, err := decodeToolArgs(toolBlock.Input)
			if err != nil {
				return model.Decision{}, err
			}
			call := core.NewToolCall(toolBlock.Name, args)
			if toolBlock.ID != "" {
				call.ID = toolBlock.ID
			}
			return model.Decision{ToolCall: &call}, nil
		}
	}
	return model.Decision{Text: text}, nil
}

// decodeToolArgs unmarshals a tool_use input block. The API delivers the
// arguments as raw JSON; an empty block means a zero-argument call.
func decodeToolArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("anthropic: decode tool input: %w", err)
	}
	return args, nil
}

// buildMessages converts the conversation window to Anthropic message format.
// Tool results become user messages carrying tool_result blocks, matching
// how the Messages API threads tool interaction turns.
func buildMessages(history []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, msg := range history {
		switch {
		case msg.Role == core.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		case msg.Role == core.RoleAssistant && msg.ToolCall != nil:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(
				msg.ToolCall.ID,
				msg.ToolCall.Arguments,
				msg.ToolCall.Name,
			)))
		case msg.Role == core.RoleAssistant:
			if msg.Text != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
			}
		case msg.Role == core.RoleTool && msg.ToolResult != nil:
			res := msg.ToolResult
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(res.CallID, renderToolResult(res), !res.OK()),
			))
		}
	}
	return messages
}

func renderToolResult(res *core.ToolResult) string {
	if !res.OK() {
		return fmt.Sprintf("error (%s): %s", res.Status, res.Error)
	}
	switch p := res.Payload.(type) {
	case string:
		return p
	case nil:
		return "ok"
	default:
		return fmt.Sprintf("%v", p)
	}
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tdef.Parameters != nil {
			if properties, exists := tdef.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tdef.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					var reqStrings []string
					for _, r := range req {
						if s, ok := r.(string); ok {
							reqStrings = append(reqStrings, s)
						}
					}
					inputSchema.Required = reqStrings
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}
	return anthropicTools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
