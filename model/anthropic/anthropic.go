// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/schedflow/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model
// interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.2,
		MaxTokens:   1024,
	}
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

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.2,
		MaxTokens:   1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate performs one non-streaming Messages API call and maps the
// response blocks onto a normalized Response. The Messages API has no
// response-format parameter, so Request.ForceJSON rests on the caller's
// instructions here; callers tolerate unparseable output either way.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    m.buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if req.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
	}
	if len(req.Tools) > 0 {
		params.Tools = m.buildTools(req.Tools)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	out := &model.Response{FinishReason: "stop"}
	if resp.StopReason != "" {
		out.FinishReason = string(resp.StopReason)
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			var args json.RawMessage
			if toolBlock.Input != nil {
				if b, err := json.Marshal(toolBlock.Input); err == nil {
					args = b
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// buildMessages converts normalized messages to the Anthropic message
// format, embedding tool results as tool_result blocks on user turns.
func (m *Model) buildMessages(msgs []model.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			continue // handled via params.System
		case "assistant":
			var content []anthropic.ContentBlockParamUnion
			if msg.Text != "" {
				content = append(content, anthropic.NewTextBlock(msg.Text))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						input = string(tc.Arguments)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case "tool":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text, false)))
		default:
			if msg.Text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
			}
		}
	}

	return messages
}

// buildTools converts schedflow tool definitions to the Anthropic tool
// format.
func (m *Model) buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tool.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
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
