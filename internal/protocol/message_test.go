package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
)

func TestParseControlVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Control
	}{
		{name: "flush", raw: `{"type":"flush_audio"}`, want: FlushAudio{}},
		{name: "text query", raw: `{"type":"text_query","text":"hi"}`, want: TextQuery{Text: "hi"}},
		{name: "empty text query", raw: `{"type":"text_query","text":""}`, want: TextQuery{Text: ""}},
		{name: "set personality", raw: `{"type":"set_personality","voice_id":"amy"}`, want: SetPersonality{VoiceID: "amy"}},
		{name: "ping", raw: `{"type":"ping"}`, want: Ping{}},
		{name: "extra fields ignored", raw: `{"type":"ping","extra":1}`, want: Ping{}},
		{name: "unknown type", raw: `{"type":"dance"}`, want: Unknown{Name: "dance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseControl([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseControlRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello`},
		{name: "array", raw: `[1,2]`},
		{name: "null", raw: `null`},
		{name: "missing type", raw: `{"text":"hi"}`},
		{name: "type not string", raw: `{"type":5}`},
		{name: "text query without text", raw: `{"type":"text_query"}`},
		{name: "text not string", raw: `{"type":"text_query","text":42}`},
		{name: "personality without voice", raw: `{"type":"set_personality"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseControl([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrProtocol)
		})
	}
}

func TestOutboundEncoding(t *testing.T) {
	tests := []struct {
		name  string
		frame Outbound
		want  map[string]any
	}{
		{name: "empty transcription keeps text", frame: Transcription(""), want: map[string]any{"type": "transcription", "text": ""}},
		{name: "assistant text", frame: AssistantText("hello"), want: map[string]any{"type": "assistant_text", "text": "hello"}},
		{name: "ack", frame: PersonalityAck("amy"), want: map[string]any{"type": "personality_ack", "voice_id": "amy"}},
		{name: "error", frame: Error("boom"), want: map[string]any{"type": "error", "message": "boom"}},
		{name: "pong", frame: Pong(), want: map[string]any{"type": "pong"}},
		{name: "audio complete", frame: AudioComplete(), want: map[string]any{"type": "audio_complete"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.frame.Encode()
			require.NoError(t, err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}
