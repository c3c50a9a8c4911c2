package session

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
	"github.com/zhouzirui/voice-assistant/backend/internal/model/conversation"
	voicemodel "github.com/zhouzirui/voice-assistant/backend/internal/model/voice"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/pipeline"
	sessionservice "github.com/zhouzirui/voice-assistant/backend/internal/service/session"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/voice"
)

type fakeTranscriber struct{ text string }

func (f fakeTranscriber) Transcribe(context.Context, []byte) string { return f.text }

type fakeResponder struct {
	reply string
	err   error
}

func (f fakeResponder) Generate(context.Context, string, []conversation.Turn) (string, error) {
	return f.reply, f.err
}

// namedVoice returns "<id>:<text>" so tests can see which voice spoke.
type namedVoice struct{ id string }

func (v namedVoice) Synthesize(_ context.Context, text string) ([]byte, error) {
	return []byte(v.id + ":" + text), nil
}

type fixture struct {
	url      string
	registry *sessionservice.Registry
	logs     *observer.ObservedLogs
}

func newFixture(t *testing.T, voiceIDs []string, responder pipeline.Responder) *fixture {
	t.Helper()

	sources := make([]voicemodel.Source, 0, len(voiceIDs))
	for _, id := range voiceIDs {
		sources = append(sources, voicemodel.Source{ID: id, Label: id, Engine: voicemodel.EnginePiper})
	}
	factory := voice.FactoryFunc(func(_ context.Context, src voicemodel.Source) (voice.Voice, error) {
		return namedVoice{id: src.ID}, nil
	})
	catalog := voice.Build(context.Background(), sources, "", factory, nil)

	orchestrator := pipeline.NewOrchestrator(
		fakeTranscriber{text: "hello world"},
		responder,
		catalog,
		pipeline.NewPool(2, time.Second, nil),
		nil,
	)
	core, logs := observer.New(zap.InfoLevel)
	registry := sessionservice.NewRegistry(nil)
	srv := httptest.NewServer(NewWebSocketHandler(registry, catalog, orchestrator, zap.New(core)))
	t.Cleanup(srv.Close)

	return &fixture{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		registry: registry,
		logs:     logs,
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return kind, data
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	kind, data := readFrame(t, conn)
	require.Equal(t, websocket.TextMessage, kind, "expected a text frame, got %q", data)
	var msg map[string]any
	require.NoError(t, sonic.Unmarshal(data, &msg))
	return msg
}

// expectPong proves no other frame was queued before the pong.
func expectPong(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendText(t, conn, `{"type":"ping"}`)
	assert.Equal(t, map[string]any{"type": "pong"}, readJSON(t, conn))
}

func TestFlushAudioRunsFullPipeline(t *testing.T) {
	f := newFixture(t, []string{"amy", "bob"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("chunk-1")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("chunk-2")))
	sendText(t, conn, `{"type":"flush_audio"}`)

	assert.Equal(t, map[string]any{"type": "transcription", "text": "hello world"}, readJSON(t, conn))
	assert.Equal(t, map[string]any{"type": "assistant_text", "text": "Hi!"}, readJSON(t, conn))

	kind, audio := readFrame(t, conn)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, "amy:Hi!", string(audio))

	assert.Equal(t, map[string]any{"type": "audio_complete"}, readJSON(t, conn))

	// the buffer was cleared by the flush
	sendText(t, conn, `{"type":"flush_audio"}`)
	expectPong(t, conn)
}

func TestTextQueryWithEmptyCatalogSkipsAudio(t *testing.T) {
	f := newFixture(t, nil, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"text_query","text":"hi"}`)
	assert.Equal(t, map[string]any{"type": "assistant_text", "text": "Hi!"}, readJSON(t, conn))
	expectPong(t, conn)
}

func TestEmptyTextQueryIsIgnored(t *testing.T) {
	f := newFixture(t, []string{"amy"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"text_query","text":""}`)
	expectPong(t, conn)
}

func TestSetPersonality(t *testing.T) {
	f := newFixture(t, []string{"amy", "bob"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"set_personality","voice_id":"nonexistent"}`)
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.NotEmpty(t, msg["message"])

	// unchanged: still the default voice
	sendText(t, conn, `{"type":"text_query","text":"hi"}`)
	readJSON(t, conn)
	_, audio := readFrame(t, conn)
	assert.Equal(t, "amy:Hi!", string(audio))
	readJSON(t, conn)

	sendText(t, conn, `{"type":"set_personality","voice_id":"bob"}`)
	assert.Equal(t, map[string]any{"type": "personality_ack", "voice_id": "bob"}, readJSON(t, conn))

	sendText(t, conn, `{"type":"text_query","text":"hi"}`)
	assert.Equal(t, "assistant_text", readJSON(t, conn)["type"])
	_, audio = readFrame(t, conn)
	assert.Equal(t, "bob:Hi!", string(audio))
	assert.Equal(t, "audio_complete", readJSON(t, conn)["type"])
}

func TestPingPong(t *testing.T) {
	f := newFixture(t, nil, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)
	expectPong(t, conn)
}

func TestFlushWithoutAudioSendsNothing(t *testing.T) {
	f := newFixture(t, []string{"amy"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"flush_audio"}`)
	expectPong(t, conn)
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	f := newFixture(t, nil, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"dance","moves":3}`)
	expectPong(t, conn)
}

func TestGenerationFailureClosesSession(t *testing.T) {
	failing := fakeResponder{err: errors.Join(errs.ErrUpstreamGeneration, errors.New("connection refused"))}
	f := newFixture(t, []string{"amy"}, failing)
	conn := f.dial(t)

	sendText(t, conn, `{"type":"text_query","text":"hi"}`)

	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["message"], "reply generation failed")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)

	assert.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameClosesSession(t *testing.T) {
	f := newFixture(t, []string{"amy"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"set_personality"}`)

	assert.Equal(t, map[string]any{"type": "error", "message": "protocol error"}, readJSON(t, conn))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)
}

func TestInvalidJSONErrorDoesNotEchoInput(t *testing.T) {
	f := newFixture(t, []string{"amy"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"ping"} trailing`)

	msg := readJSON(t, conn)
	assert.Equal(t, map[string]any{"type": "error", "message": "protocol error"}, msg)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)

	// the parser detail is kept server side
	assert.Eventually(t, func() bool {
		return f.logs.FilterMessage("session terminated").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	entry := f.logs.FilterMessage("session terminated").All()[0]
	assert.Contains(t, entry.ContextMap()["error"], "trailing")
}

func TestClientMessageHidesDetails(t *testing.T) {
	assert.Equal(t, "reply generation failed",
		clientMessage(errors.Join(errs.ErrUpstreamGeneration, errors.New("upstream said: secret"))))
	assert.Equal(t, "server busy, try again later", clientMessage(errs.ErrBusy))
	assert.Equal(t, "internal server error", clientMessage(errors.New("synthesize with amy: exit status 1")))
}

func TestSessionClosedIsLogged(t *testing.T) {
	f := newFixture(t, []string{"amy"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	sendText(t, conn, `{"type":"text_query","text":"hi"}`)
	readJSON(t, conn)
	readFrame(t, conn)
	readJSON(t, conn)
	conn.Close()

	assert.Eventually(t, func() bool {
		return f.logs.FilterMessage("session closed").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	fields := f.logs.FilterMessage("session closed").All()[0].ContextMap()
	assert.NotEmpty(t, fields["remote"])
	assert.Contains(t, fields, "duration")
	assert.Equal(t, int64(2), fields["turns"])
	assert.NotEmpty(t, fields["session"])
}

func TestDisconnectUnregistersSession(t *testing.T) {
	f := newFixture(t, []string{"amy"}, fakeResponder{reply: "Hi!"})
	conn := f.dial(t)

	expectPong(t, conn)
	assert.Equal(t, 1, f.registry.Len())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return f.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClosedRegistryRejectsConnection(t *testing.T) {
	f := newFixture(t, nil, fakeResponder{reply: "Hi!"})
	f.registry.Close()
	conn := f.dial(t)

	msg := readJSON(t, conn)
	assert.Equal(t, map[string]any{"type": "error", "message": "connection registry closed"}, msg)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}
