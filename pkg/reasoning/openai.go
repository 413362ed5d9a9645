package reasoning

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient adapts the OpenAI chat completions API to the neutral
// Client interface.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI reasoning client.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Provider returns the provider name.
func (c *OpenAIClient) Provider() string {
	return "openai"
}

// Reason runs one chat completion over the bundle.
func (c *OpenAIClient) Reason(ctx context.Context, bundle Bundle) (*Outcome, error) {
	messages, err := openaiMessages(bundle)
	if err != nil {
		return nil, err
	}

	model := bundle.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if bundle.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(bundle.MaxTokens))
	}
	if bundle.Temperature > 0 {
		params.Temperature = openai.Float(bundle.Temperature)
	}
	if len(bundle.Tools) > 0 {
		params.Tools = openaiTools(bundle.Tools)
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	if len(response.Choices) == 0 {
		return nil, malformed("no response choices returned")
	}

	choice := response.Choices[0]
	outcome := &Outcome{
		Answer: choice.Message.Content,
		Usage: &Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}

	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]

		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, malformed("failed to parse tool arguments: %v", err)
		}

		outcome.ToolCall = &ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		}
		return outcome, nil
	}

	if outcome.Answer == "" {
		return nil, malformed("empty completion")
	}
	return outcome, nil
}

func openaiMessages(bundle Bundle) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if bundle.System != "" {
		messages = append(messages, openai.SystemMessage(bundle.System))
	}

	for _, msg := range bundle.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))

		case RoleAssistant:
			if msg.ToolCall != nil {
				argsJSON, err := json.Marshal(msg.ToolCall.Arguments)
				if err != nil {
					return nil, malformed("failed to marshal tool arguments: %v", err)
				}

				assistantMsg := openai.ChatCompletionMessage{
					Role:    "assistant",
					Content: msg.Content,
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{
							ID:   msg.ToolCall.ID,
							Type: "function",
							Function: openai.ChatCompletionMessageToolCallFunction{
								Name:      msg.ToolCall.Name,
								Arguments: string(argsJSON),
							},
						},
					},
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}

		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	return messages, nil
}

func openaiTools(tools []Tool) []openai.ChatCompletionToolParam {
	out := []openai.ChatCompletionToolParam{}
	for _, tool := range tools {
		schema := tool.Schema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(schema),
			},
		})
	}
	return out
}
