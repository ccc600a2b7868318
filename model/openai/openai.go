// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API with function/tool calling. It adapts the normalized
// Request/Decision structures into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/querychat/querychat/core"
	"github.com/querychat/querychat/model"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64

	// APIKey overrides the OPENAI_API_KEY environment variable when set.
	APIKey string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	var probe Options
	for _, fn := range optFns {
		fn(&probe)
	}
	var clientOpts []option.RequestOption
	if probe.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(probe.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Decide performs one reasoning step via a non-streaming chat completion.
// When the completion carries several tool calls only the first is kept.
func (m *Model) Decide(ctx context.Context, req model.Request) (model.Decision, error) {
	params := m.buildParams(req)
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return model.Decision{}, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Decision{}, fmt.Errorf("openai: no choices returned")
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return model.Decision{}, fmt.Errorf("openai: malformed tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		call := core.NewToolCall(tc.Function.Name, args)
		if tc.ID != "" {
			call.ID = tc.ID
		}
		return model.Decision{ToolCall: &call}, nil
	}
	return model.Decision{Text: choice.Message.Content}, nil
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	messages := buildMessages(req)
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts the conversation window to OpenAI message format.
// Tool call and tool result messages become assistant tool_calls entries
// followed by matching tool role messages.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, msg := range req.History {
		switch {
		case msg.Role == core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Text))
		case msg.Role == core.RoleAssistant && msg.ToolCall != nil:
			args, err := json.Marshal(msg.ToolCall.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role: "assistant",
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID:   msg.ToolCall.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      msg.ToolCall.Name,
							Arguments: string(args),
						},
					}},
				},
			})
		case msg.Role == core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Text))
		case msg.Role == core.RoleTool && msg.ToolResult != nil:
			messages = append(messages, openai.ToolMessage(renderToolResult(msg.ToolResult), msg.ToolResult.CallID))
		}
	}
	return messages
}

// renderToolResult flattens a tool result into the text body the provider sees.
// Failures are rendered as plain text so the model can recover from them.
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
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Sprintf("%v", p)
		}
		return string(b)
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
