package reasoning

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicClient adapts the Anthropic messages API to the neutral
// Client interface.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates an Anthropic reasoning client.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Provider returns the provider name.
func (c *AnthropicClient) Provider() string {
	return "anthropic"
}

// Reason runs one messages call over the bundle.
func (c *AnthropicClient) Reason(ctx context.Context, bundle Bundle) (*Outcome, error) {
	model := bundle.Model
	if model == "" {
		model = c.model
	}

	maxTokens := bundle.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthropicMessages(bundle),
		MaxTokens: int64(maxTokens),
	}
	if bundle.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: bundle.System},
		}
	}
	if bundle.Temperature > 0 {
		params.Temperature = anthropic.Float(bundle.Temperature)
	}
	if len(bundle.Tools) > 0 {
		params.Tools = anthropicTools(bundle.Tools)
	}

	response, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	outcome := &Outcome{
		Usage: &Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			outcome.Answer += b.Text

		case anthropic.ToolUseBlock:
			if outcome.ToolCall != nil {
				continue
			}

			var args map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return nil, malformed("failed to parse tool input: %v", err)
			}
			outcome.ToolCall = &ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			}
		}
	}

	if outcome.Answer == "" && outcome.ToolCall == nil {
		return nil, malformed("empty completion")
	}
	return outcome, nil
}

func anthropicMessages(bundle Bundle) []anthropic.MessageParam {
	messages := []anthropic.MessageParam{}

	for _, msg := range bundle.Messages {
		switch msg.Role {
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		case RoleAssistant:
			if msg.ToolCall != nil {
				blocks := []anthropic.ContentBlockParamUnion{}
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(msg.ToolCall.ID, msg.ToolCall.Arguments, msg.ToolCall.Name))
				messages = append(messages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			} else {
				messages = append(messages, anthropic.MessageParam{
					Role: anthropic.MessageParamRoleAssistant,
					Content: []anthropic.ContentBlockParamUnion{
						anthropic.NewTextBlock(msg.Content),
					},
				})
			}

		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return messages
}

func anthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := []anthropic.ToolUnionParam{}

	for _, tool := range tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
		}

		if tool.Schema != nil {
			toolParam.InputSchema = anthropic.ToolInputSchemaParam{
				Properties: tool.Schema["properties"],
			}
			if required, ok := tool.Schema["required"]; ok {
				if reqSlice, ok := required.([]interface{}); ok {
					strSlice := make([]string, 0, len(reqSlice))
					for _, v := range reqSlice {
						if s, ok := v.(string); ok {
							strSlice = append(strSlice, s)
						}
					}
					toolParam.InputSchema.Required = strSlice
				}
			}
		}

		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	return out
}
