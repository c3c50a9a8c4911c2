package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-assistant/backend/internal/handler/session"
	"github.com/zhouzirui/voice-assistant/backend/internal/model/conversation"
	voicemodel "github.com/zhouzirui/voice-assistant/backend/internal/model/voice"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/pipeline"
	sessionservice "github.com/zhouzirui/voice-assistant/backend/internal/service/session"
	voiceservice "github.com/zhouzirui/voice-assistant/backend/internal/service/voice"
)

type silentTranscriber struct{}

func (silentTranscriber) Transcribe(context.Context, []byte) string { return "" }

type echoResponder struct{}

func (echoResponder) Generate(_ context.Context, prompt string, _ []conversation.Turn) (string, error) {
	return prompt, nil
}

type toneVoice struct{}

func (toneVoice) Synthesize(context.Context, string) ([]byte, error) { return []byte("tone"), nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	factory := voiceservice.FactoryFunc(func(context.Context, voicemodel.Source) (voiceservice.Voice, error) {
		return toneVoice{}, nil
	})
	catalog := voiceservice.Build(context.Background(), []voicemodel.Source{
		{ID: "professional_female", Label: "Professional Female", Engine: voicemodel.EnginePiper},
	}, "professional_female", factory, nil)

	orchestrator := pipeline.NewOrchestrator(silentTranscriber{}, echoResponder{}, catalog,
		pipeline.NewPool(1, time.Second, nil), nil)
	ws := session.NewWebSocketHandler(sessionservice.NewRegistry(nil), catalog, orchestrator, nil)

	srv := httptest.NewServer(NewRouter(catalog, ws, nil))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestVoicesRoute(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/voices")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestWebSocketRouteThroughMiddleware(t *testing.T) {
	srv := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"text_query","text":"echo"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"assistant_text","text":"echo"}`, string(data))

	kind, audio, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, "tone", string(audio))
}
