package session

import (
	"bytes"
	"sync"
	"time"

	"github.com/zhouzirui/voice-assistant/backend/internal/model/conversation"
)

// Session is the per-connection state: pending audio, conversation history
// and the active voice personality. It is mutated only by the goroutine
// serving its connection; the lock guards reads from elsewhere.
type Session struct {
	id         string
	remoteAddr string
	createdAt  time.Time

	mu          sync.Mutex
	audio       bytes.Buffer
	history     []conversation.Turn
	personality string
}

func newSession(id, remoteAddr, personality string) *Session {
	return &Session{
		id:          id,
		remoteAddr:  remoteAddr,
		createdAt:   time.Now().UTC(),
		history:     make([]conversation.Turn, 0, 16),
		personality: personality,
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) RemoteAddr() string   { return s.remoteAddr }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// AppendAudio appends a raw audio chunk to the buffer.
func (s *Session) AppendAudio(chunk []byte) {
	s.mu.Lock()
	s.audio.Write(chunk)
	s.mu.Unlock()
}

// Audio returns a copy of the buffered audio.
func (s *Session) Audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.audio.Bytes())
}

// AudioLen reports the number of buffered bytes.
func (s *Session) AudioLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.Len()
}

// ResetAudio clears the buffer.
func (s *Session) ResetAudio() {
	s.mu.Lock()
	s.audio.Reset()
	s.mu.Unlock()
}

// AppendTurn records a turn at the end of the history.
func (s *Session) AppendTurn(turn conversation.Turn) {
	s.mu.Lock()
	s.history = append(s.history, turn)
	s.mu.Unlock()
}

// History returns a copy of the conversation in insertion order.
func (s *Session) History() []conversation.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]conversation.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Personality returns the active voice id, empty when none is selected.
func (s *Session) Personality() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.personality
}

// SetPersonality switches the active voice id.
func (s *Session) SetPersonality(id string) {
	s.mu.Lock()
	s.personality = id
	s.mu.Unlock()
}
