package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/forgechat/forgechat/internal/metrics"
	"github.com/forgechat/forgechat/internal/tracing"
	"github.com/forgechat/forgechat/pkg/chat"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Server is the HTTP and WebSocket front door for the chat service
type Server struct {
	host           string
	port           int
	sharedSecret   string
	tickInterval   time.Duration
	server         *http.Server
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	broadcaster    *EventBroadcaster
	service        *chat.Service
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
	tickCancel     context.CancelFunc
	tickWG         sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	TickInterval time.Duration
	Service      *chat.Service
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if cfg.Metrics == nil {
		return nil, fmt.Errorf("metrics registry is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}

	clients := NewClientRegistry()
	broadcaster := NewEventBroadcaster(clients, cfg.Logger)

	s := &Server{
		host:         cfg.Host,
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		tickInterval: cfg.TickInterval,
		clients:      clients,
		broadcaster:  broadcaster,
		service:      cfg.Service,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}

	return s, nil
}

// Handler returns the gateway's HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session", s.handleCreateSession)
	mux.HandleFunc("/api/v1/chat", s.handleChat)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start starts the gateway server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	// Start server in goroutine so it doesn't block
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	// Give the server a moment to start
	time.Sleep(50 * time.Millisecond)
	s.startTickEmitter()

	return nil
}

// Stop gracefully stops the gateway server
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")
	s.stopTickEmitter()

	// Broadcast shutdown event
	s.broadcaster.Broadcast("server.shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	// Wait for in-flight turns with timeout
	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	// Close all client connections
	clients := s.clients.GetAll()
	for _, client := range clients {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) startTickEmitter() {
	if s.tickInterval <= 0 {
		return
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	s.tickCancel = cancel
	s.tickWG.Add(1)

	go func() {
		defer s.tickWG.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				s.broadcaster.Broadcast("tick", map[string]interface{}{
					"status": "alive",
					"level":  s.service.Health(context.Background()).Level,
				})
			}
		}
	}()
}

func (s *Server) stopTickEmitter() {
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	s.tickWG.Wait()
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	// Upgrade connection
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	// Create client
	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(),
		State:        StateConnected,
	}

	// Add to registry
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	// Handle client messages
	go s.handleClient(client)
}

// handleClient handles frames from a client
func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			break
		}

		// Update activity
		s.clients.UpdateActivity(client.ID)

		// Handle frame
		s.handleFrame(client, message)
	}
}

// handleFrame handles a single frame from a client
func (s *Server) handleFrame(client *Client, message []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.sendError(client, CodeInvalidRequest, "malformed frame")
		return
	}

	switch frame.Type {
	case FrameTypeSession:
		s.handleSessionFrame(client, frame)
	case FrameTypeChat:
		s.handleChatFrame(client, frame)
	default:
		s.sendError(client, CodeInvalidRequest, fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

// handleSessionFrame binds a session to the connection
func (s *Server) handleSessionFrame(client *Client, frame ClientFrame) {
	ctx := tracing.NewRequestContext(context.Background())

	info, err := s.service.CreateSession(ctx, frame.Identity)
	if err != nil {
		s.sendError(client, codeForError(err), safeMessage(err))
		return
	}

	s.clients.BindSession(client.ID, info.SessionID, frame.Identity, info.Token)

	s.logger.Info().
		Str("clientId", client.ID).
		Str("session_id", info.SessionID).
		Msg("Client bound session")

	if err := client.WriteJSON(SessionFrame{Type: FrameTypeSession, Session: *info}); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send session frame")
	}
}

// handleChatFrame runs one turn for the client
func (s *Server) handleChatFrame(client *Client, frame ClientFrame) {
	req := chat.TurnRequest{
		SessionID: frame.SessionID,
		Identity:  frame.Identity,
		Token:     frame.Token,
		Message:   frame.Message,
		Context:   frame.Context,
	}

	// Frames without explicit credentials use the bound session
	if req.SessionID == "" {
		req.SessionID = client.SessionID
	}
	if req.Identity == "" {
		req.Identity = client.Identity
	}
	if req.Token == "" {
		req.Token = client.Token
	}

	// Check rate limits
	allowed, reason := client.RateLimiter.CheckRequestAllowed()
	if !allowed {
		s.sendError(client, CodeRateLimited, reason)
		return
	}

	// Record frame start
	client.RateLimiter.RecordRequestStart()
	s.inFlightReqs.Add(1)

	// Handle turn asynchronously
	go func() {
		defer client.RateLimiter.RecordRequestEnd()
		defer s.inFlightReqs.Done()

		ctx := tracing.NewRequestContext(context.Background())
		ctx = tracing.WithSessionID(ctx, req.SessionID)
		ctx = tracing.WithIdentity(ctx, req.Identity)

		resp, err := s.service.ProcessTurn(ctx, req)
		if err != nil {
			s.sendError(client, codeForError(err), safeMessage(err))
			return
		}

		reply := ReplyFrame{
			Type:        FrameTypeReply,
			Reply:       resp.Reply,
			Invocations: resp.Invocations,
			Session:     resp.SessionState,
			FailureCode: resp.FailureCode,
		}
		if err := client.WriteJSON(reply); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Msg("Failed to send reply")
		}
	}()
}

// sendError sends an error frame to a client
func (s *Server) sendError(client *Client, code, message string) {
	frame := ErrorFrame{
		Type:    FrameTypeError,
		Code:    code,
		Message: message,
	}

	if err := client.WriteJSON(frame); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error frame")
	}
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// checkSecret verifies the shared-secret header when one is configured
func (s *Server) checkSecret(r *http.Request) bool {
	if s.sharedSecret == "" {
		return true
	}
	secret := r.Header.Get("X-Forgechat-Secret")
	return subtle.ConstantTimeCompare([]byte(secret), []byte(s.sharedSecret)) == 1
}

// Broadcast broadcasts an event to all connected clients
func (s *Server) Broadcast(event string, data interface{}) {
	s.broadcaster.Broadcast(event, data)
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}
