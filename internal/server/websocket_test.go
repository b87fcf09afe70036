package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canaryops/rollout-agent/internal/analysis"
	"github.com/canaryops/rollout-agent/internal/llm/types"
)

// wsToolClient makes one tool call before answering so the stream carries
// tool frames.
type wsToolClient struct {
	model  string
	output string
}

func (c *wsToolClient) Model() string { return c.model }

func (c *wsToolClient) Complete(ctx context.Context, messages []types.Message, tools []types.Tool) (*types.ChatResponse, error) {
	return &types.ChatResponse{Content: c.output}, nil
}

func (c *wsToolClient) RunToolLoop(ctx context.Context, messages []types.Message, tools []types.Tool, executor types.ToolExecutor, cfg types.LoopConfig) (string, types.LoopStats, error) {
	if _, err := executor.Execute(ctx, "get_logs", `{"namespace": "prod"}`); err != nil {
		return "", types.LoopStats{}, err
	}
	return c.output, types.LoopStats{ModelCalls: 2, ToolCalls: 1}, nil
}

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	httpSrv := httptest.NewServer(http.HandlerFunc(srv.handleAnalyzeWS))
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestAnalyzeWSStreamsToolEventsThenComplete(t *testing.T) {
	resolver := &testResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &wsToolClient{model: "gemini-2.5-flash", output: verdict("healthy", true, 90)},
	}}
	srv := newTestServer(t, resolver, nil)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(analysis.Request{UserID: "controller", Prompt: "canary failing"}))

	var frames []WSMessage
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		frames = append(frames, msg)
		if msg.Type == MessageTypeComplete || msg.Type == MessageTypeError {
			break
		}
	}

	// Two tool frames (calling, result) then the verdict.
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, MessageTypeTool, frames[0].Type)
	assert.Equal(t, "gemini-2.5-flash", frames[0].Model)
	require.NotNil(t, frames[0].Tool)
	assert.Equal(t, "calling", frames[0].Tool.Phase)
	assert.Equal(t, "get_logs", frames[0].Tool.ToolName)
	assert.Equal(t, "result", frames[1].Tool.Phase)

	last := frames[len(frames)-1]
	assert.Equal(t, MessageTypeComplete, last.Type)
	require.NotNil(t, last.Response)
	assert.True(t, last.Response.Promote)
	assert.Equal(t, 90, last.Response.Confidence)
}

func TestAnalyzeWSAllFailedSendsErrorWithSafeDefault(t *testing.T) {
	resolver := &testResolver{clients: map[string]types.ModelClient{
		"gemini-2.5-flash": &testClient{model: "gemini-2.5-flash", err: errors.New("boom")},
	}}
	srv := newTestServer(t, resolver, nil)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(analysis.Request{UserID: "controller", Prompt: "check"}))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeError, msg.Type)
	require.NotNil(t, msg.Response)
	assert.True(t, msg.Response.Promote)
	assert.Zero(t, msg.Response.Confidence)
}

func TestAnalyzeWSInvalidRequest(t *testing.T) {
	srv := newTestServer(t, &testResolver{}, nil)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Error, "invalid request")
}

func TestUpgraderOriginCheck(t *testing.T) {
	srv := newTestServer(t, &testResolver{}, nil)
	srv.config.Server.AllowedOrigins = []string{"https://dashboard.internal"}

	up := srv.upgrader()

	req := httptest.NewRequest(http.MethodGet, "/a2a/analyze/ws", nil)
	req.Header.Set("Origin", "https://dashboard.internal")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))

	srv.config.Server.AllowedOrigins = nil
	up = srv.upgrader()
	assert.True(t, up.CheckOrigin(req))
}
