package protocol

import "github.com/bytedance/sonic"

// Outbound is a server-to-client text frame.
type Outbound struct {
	Type    MessageType `json:"type"`
	Text    *string     `json:"text,omitempty"`
	VoiceID string      `json:"voice_id,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Transcription reports the recognized user utterance; an empty text is
// still sent so the client knows the flush produced nothing.
func Transcription(text string) Outbound {
	return Outbound{Type: TypeTranscription, Text: &text}
}

// AssistantText carries the generated reply.
func AssistantText(text string) Outbound {
	return Outbound{Type: TypeAssistantText, Text: &text}
}

// PersonalityAck confirms a set_personality request.
func PersonalityAck(voiceID string) Outbound {
	return Outbound{Type: TypePersonalityAck, VoiceID: voiceID}
}

// Error carries a human readable failure.
func Error(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}

// Pong answers a ping.
func Pong() Outbound {
	return Outbound{Type: TypePong}
}

// AudioComplete follows the binary audio frame of a reply.
func AudioComplete() Outbound {
	return Outbound{Type: TypeAudioComplete}
}

// Encode serializes the frame for the wire.
func (o Outbound) Encode() ([]byte, error) {
	return sonic.Marshal(o)
}
