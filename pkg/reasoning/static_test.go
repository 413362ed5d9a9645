package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponder_Respond(t *testing.T) {
	responder := NewResponder()

	tests := []struct {
		name     string
		message  string
		expected string
	}{
		{name: "help", message: "what can you do?", expected: helpReply},
		{name: "help keyword", message: "I need some help", expected: helpReply},
		{name: "build status", message: "what's the status of my latest build?", expected: statusReply},
		{name: "job list", message: "list my jobs", expected: jobListReply},
		{name: "show all", message: "show me all of them", expected: jobListReply},
		{name: "trigger", message: "trigger a build for deploy", expected: actionReply},
		{name: "delete", message: "delete the old job", expected: actionReply},
		{name: "greeting", message: "hello", expected: greetingReply},
		{name: "greeting with name", message: "hi there", expected: greetingReply},
		{name: "unknown", message: "what is the weather like", expected: defaultReply},
		{name: "empty", message: "", expected: defaultReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, responder.Respond(tt.message))
		})
	}
}

func TestResponder_ReasonUsesLastUserMessage(t *testing.T) {
	responder := NewResponder()

	outcome, err := responder.Reason(context.Background(), Bundle{
		Messages: []Message{
			{Role: RoleUser, Content: "list my jobs"},
			{Role: RoleAssistant, Content: "You have one job."},
			{Role: RoleUser, Content: "what can you do?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, helpReply, outcome.Answer)
	assert.Nil(t, outcome.ToolCall)
}

func TestResponder_ReasonEmptyBundle(t *testing.T) {
	responder := NewResponder()

	outcome, err := responder.Reason(context.Background(), Bundle{})
	require.NoError(t, err)
	assert.Equal(t, defaultReply, outcome.Answer)
	assert.Equal(t, "static", responder.Provider())
}
