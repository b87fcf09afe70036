package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/canaryops/rollout-agent/internal/analysis"
	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// WebSocket message types
const (
	MessageTypeTool     = "tool"
	MessageTypeError    = "error"
	MessageTypeComplete = "complete"
)

// WSMessage is one frame pushed to a streaming analysis client.
type WSMessage struct {
	Type      string             `json:"type"`
	Model     string             `json:"model,omitempty"`
	Tool      *types.ToolEvent   `json:"tool,omitempty"`
	Response  *analysis.Response `json:"response,omitempty"`
	Error     string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := s.config.Server.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, a := range allowed {
				if origin == a {
					return true
				}
			}
			return false
		},
	}
}

// handleAnalyzeWS runs the same analysis as the REST endpoint while
// streaming per-backend tool activity to the client. One request per
// connection: the client sends the analysis request, receives tool
// events as the backends work, then a final complete (or error) frame.
func (s *Server) handleAnalyzeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := uuid.NewString()
	logger := s.logger.With(zap.String("ws_session", sessionID))
	logger.Info("websocket analysis connection established")

	wsc := &wsConn{conn: conn, logger: logger}
	defer func() {
		conn.Close()
		logger.Info("websocket analysis connection closed")
	}()

	var req analysis.Request
	if err := conn.ReadJSON(&req); err != nil {
		wsc.send(WSMessage{Type: MessageTypeError, Error: "invalid request: " + err.Error(), Timestamp: time.Now()})
		return
	}

	resp, err := s.orchestrator.Analyze(r.Context(), &req, wsc)
	if err != nil {
		logger.Error("websocket analysis failed", zap.Error(err))
		wsc.send(WSMessage{
			Type:      MessageTypeError,
			Error:     err.Error(),
			Response:  safeDefaultResponse(err.Error()),
			Timestamp: time.Now(),
		})
		return
	}

	wsc.send(WSMessage{Type: MessageTypeComplete, Response: resp, Timestamp: time.Now()})
}

// wsConn serializes writes: parallel model sessions push tool events
// concurrently and gorilla/websocket allows one writer at a time.
type wsConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
}

func (c *wsConn) send(msg WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("websocket write failed", zap.Error(err))
	}
}

// OnToolEvent implements analysis.ToolObserver.
func (c *wsConn) OnToolEvent(model string, event types.ToolEvent) {
	ev := event
	c.send(WSMessage{
		Type:      MessageTypeTool,
		Model:     model,
		Tool:      &ev,
		Timestamp: time.Now(),
	})
}
