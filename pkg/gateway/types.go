package gateway

import (
	"sync"
	"time"

	"github.com/forgechat/forgechat/pkg/chat"
	"github.com/forgechat/forgechat/pkg/tools"
	"github.com/gorilla/websocket"
)

// API error codes surfaced to clients. Authentication and validation
// failures carry specific codes; internal failures collapse to a
// generic code with no detail.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "authentication_error"
	CodeSessionExpired = "session_expired"
	CodeRateLimited    = "rate_limit_exceeded"
	CodeInternal       = "internal_error"
	CodeShuttingDown   = "shutting_down"
)

// Frame types exchanged over the WebSocket chat surface.
const (
	FrameTypeSession = "session"
	FrameTypeChat    = "chat"
	FrameTypeReply   = "reply"
	FrameTypeError   = "error"
	FrameTypeEvent   = "event"
)

// APIError is the error payload in REST responses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError for JSON encoding.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// SessionRequest is the body of POST /api/v1/session.
type SessionRequest struct {
	Identity string `json:"identity"`
}

// ClientFrame is a message sent by a WebSocket client. A "session"
// frame binds an identity to the connection; a "chat" frame runs one
// turn, falling back to the bound session when it carries no explicit
// credentials.
type ClientFrame struct {
	Type      string            `json:"type"`
	Identity  string            `json:"identity,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Token     string            `json:"token,omitempty"`
	Message   string            `json:"message,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// SessionFrame acknowledges a session bind on a WebSocket connection.
type SessionFrame struct {
	Type    string           `json:"type"`
	Session chat.SessionInfo `json:"session"`
}

// ReplyFrame carries the outcome of one chat turn.
type ReplyFrame struct {
	Type        string                    `json:"type"`
	Reply       string                    `json:"reply"`
	Invocations []*tools.InvocationRecord `json:"invocations,omitempty"`
	Session     chat.SessionState         `json:"session_state"`
	FailureCode string                    `json:"failure_code,omitempty"`
}

// ErrorFrame reports a failed frame without closing the connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventMessage is a server-initiated broadcast event.
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// ClientState represents the state of a client connection
type ClientState int

const (
	StateConnected ClientState = iota
	StateBound
	StateDisconnected
)

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	SessionID    string
	Identity     string
	Token        string
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	RateLimiter  *ClientRateLimiter
	State        ClientState

	writeMu sync.Mutex
}

// WriteJSON writes a JSON message to the client. Gorilla connections
// allow a single concurrent writer, so writes are serialized per
// client.
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Bound reports whether a session is attached to the connection.
func (c *Client) Bound() bool {
	return c.SessionID != ""
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	Identity     string    `json:"identity,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	Idle         bool      `json:"idle"`
}
