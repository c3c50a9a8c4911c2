// Package protocol defines the control frames exchanged over the voice websocket.
//
// Inbound text frames are decoded into a closed set of Control variants.
// Anything that does not match a known variant shape is rejected with
// errs.ErrProtocol; unknown "type" values decode to Unknown and are ignored
// by the session.
package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
)

// MessageType is the "type" discriminator carried by every text frame.
type MessageType string

// Inbound message types.
const (
	TypeFlushAudio     MessageType = "flush_audio"
	TypeTextQuery      MessageType = "text_query"
	TypeSetPersonality MessageType = "set_personality"
	TypePing           MessageType = "ping"
)

// Outbound message types.
const (
	TypeTranscription  MessageType = "transcription"
	TypeAssistantText  MessageType = "assistant_text"
	TypePersonalityAck MessageType = "personality_ack"
	TypeError          MessageType = "error"
	TypePong           MessageType = "pong"
	TypeAudioComplete  MessageType = "audio_complete"
)

// Control is one decoded inbound control message.
type Control interface {
	Type() MessageType
}

// FlushAudio asks the session to run the audio pipeline over its buffer.
type FlushAudio struct{}

// TextQuery carries a typed user message.
type TextQuery struct {
	Text string
}

// SetPersonality selects a catalog voice for the session.
type SetPersonality struct {
	VoiceID string
}

// Ping is answered with Pong.
type Ping struct{}

// Unknown is a well-formed frame whose type the server does not handle.
type Unknown struct {
	Name string
}

func (FlushAudio) Type() MessageType     { return TypeFlushAudio }
func (TextQuery) Type() MessageType      { return TypeTextQuery }
func (SetPersonality) Type() MessageType { return TypeSetPersonality }
func (Ping) Type() MessageType           { return TypePing }
func (u Unknown) Type() MessageType      { return MessageType(u.Name) }

type inboundMessage struct {
	Type    *string `json:"type"`
	Text    *string `json:"text"`
	VoiceID *string `json:"voice_id"`
}

// ParseControl decodes a text frame. The returned error always wraps
// errs.ErrProtocol.
func ParseControl(data []byte) (Control, error) {
	var msg inboundMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid control frame: %v", errs.ErrProtocol, err)
	}
	if msg.Type == nil {
		return nil, fmt.Errorf("%w: control frame is missing \"type\"", errs.ErrProtocol)
	}

	switch MessageType(*msg.Type) {
	case TypeFlushAudio:
		return FlushAudio{}, nil
	case TypeTextQuery:
		if msg.Text == nil {
			return nil, fmt.Errorf("%w: text_query requires \"text\"", errs.ErrProtocol)
		}
		return TextQuery{Text: *msg.Text}, nil
	case TypeSetPersonality:
		if msg.VoiceID == nil {
			return nil, fmt.Errorf("%w: set_personality requires \"voice_id\"", errs.ErrProtocol)
		}
		return SetPersonality{VoiceID: *msg.VoiceID}, nil
	case TypePing:
		return Ping{}, nil
	default:
		return Unknown{Name: *msg.Type}, nil
	}
}
