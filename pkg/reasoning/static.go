package reasoning

import (
	"context"
	"strings"
)

// Responder produces canned replies from keyword patterns. It serves
// turns while the reasoning service is unavailable, so it depends on
// nothing and cannot fail.
type Responder struct{}

// NewResponder creates a static responder.
func NewResponder() *Responder {
	return &Responder{}
}

// Provider returns the provider name.
func (r *Responder) Provider() string {
	return "static"
}

// Reason answers the bundle's last user message from templates.
func (r *Responder) Reason(ctx context.Context, bundle Bundle) (*Outcome, error) {
	message := ""
	for i := len(bundle.Messages) - 1; i >= 0; i-- {
		if bundle.Messages[i].Role == RoleUser {
			message = bundle.Messages[i].Content
			break
		}
	}
	return &Outcome{Answer: r.Respond(message)}, nil
}

// Respond matches the message against known phrasings and returns the
// template reply.
func (r *Responder) Respond(message string) string {
	lower := strings.ToLower(strings.TrimSpace(message))

	switch {
	case isHelpQuery(lower):
		return helpReply
	case isBuildStatusQuery(lower):
		return statusReply
	case isJobListQuery(lower):
		return jobListReply
	case isActionQuery(lower):
		return actionReply
	case isGreeting(lower):
		return greetingReply
	default:
		return defaultReply
	}
}

func isHelpQuery(message string) bool {
	return strings.Contains(message, "help") || strings.Contains(message, "what can you do") ||
		strings.Contains(message, "commands") || strings.Contains(message, "how to")
}

func isBuildStatusQuery(message string) bool {
	return (strings.Contains(message, "status") || strings.Contains(message, "build")) &&
		(strings.Contains(message, "latest") || strings.Contains(message, "last") ||
			strings.Contains(message, "recent") || strings.Contains(message, "my build") ||
			strings.Contains(message, "check"))
}

func isJobListQuery(message string) bool {
	return (strings.Contains(message, "list") || strings.Contains(message, "show")) &&
		(strings.Contains(message, "job") || strings.Contains(message, "all"))
}

func isActionQuery(message string) bool {
	return strings.Contains(message, "trigger") || strings.Contains(message, "start a build") ||
		strings.Contains(message, "deploy") || strings.Contains(message, "cancel") ||
		strings.Contains(message, "delete") || strings.Contains(message, "create")
}

func isGreeting(message string) bool {
	return message == "hi" || message == "hello" || message == "hey" ||
		strings.HasPrefix(message, "hi ") || strings.HasPrefix(message, "hello ") ||
		strings.HasPrefix(message, "hey ")
}

const helpReply = "I can help you with build automation tasks:\n\n" +
	"• \"list my jobs\" - show jobs you can access\n" +
	"• \"what's the status of my latest build?\" - check recent builds\n" +
	"• \"trigger a build for [job-name]\" - start a new build\n" +
	"• \"show me the log for build #123\" - view build logs\n\n" +
	"I only show jobs you have permission to access. " +
	"I'm currently running in a reduced mode, so answers may be limited."

const statusReply = "I can't look up live build status right now because my " +
	"reasoning service is unavailable. Please check the build page directly, " +
	"or ask me again in a few minutes."

const jobListReply = "I can't fetch your job list right now because my " +
	"reasoning service is unavailable. Your jobs are visible on the platform " +
	"dashboard; please try me again in a few minutes."

const actionReply = "I can't execute build operations while running in " +
	"reduced mode. No action has been taken. Please use the platform " +
	"directly, or try again once full service is restored."

const greetingReply = "Hello! I'm your build automation assistant. I'm " +
	"currently running in a reduced mode, but you can ask me for \"help\" " +
	"to see what I can normally do."

const defaultReply = "I didn't understand that request, and I'm currently " +
	"running in a reduced mode. Try asking:\n" +
	"• \"list my jobs\" - to see available jobs\n" +
	"• \"what's the status of my latest build?\" - for build status\n" +
	"• \"what can you do?\" - for help"
