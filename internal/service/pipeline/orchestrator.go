// Package pipeline sequences transcription, reply generation and speech
// synthesis for one session and emits the resulting frames in order.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/model/conversation"
	"github.com/zhouzirui/voice-assistant/backend/internal/protocol"
)

// FallbackReply is shown when the responder returns an empty reply. It is
// never recorded in the history.
const FallbackReply = "..."

// Transcriber never fails; an unusable recording yields "".
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

type Responder interface {
	Generate(ctx context.Context, prompt string, history []conversation.Turn) (string, error)
}

// Synthesizer renders text with a personality, falling back to another
// voice when the personality is unknown.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, personality string) ([]byte, error)
}

// Conversation is the session state a pipeline run reads and extends.
type Conversation interface {
	ID() string
	AppendTurn(turn conversation.Turn)
	History() []conversation.Turn
	Personality() string
}

// Emitter delivers outbound frames to the client.
type Emitter interface {
	Send(msg protocol.Outbound) error
	SendAudio(audio []byte) error
}

// Orchestrator runs the audio and text pipelines.
type Orchestrator struct {
	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer
	pool        *Pool
	logger      *zap.Logger
}

// NewOrchestrator wires the collaborators. Every collaborator call goes
// through pool.
func NewOrchestrator(t Transcriber, r Responder, s Synthesizer, pool *Pool, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		transcriber: t,
		responder:   r,
		synthesizer: s,
		pool:        pool,
		logger:      logger.Named("pipeline"),
	}
}

// RunAudio transcribes audio, answers it and speaks the answer. Frames:
// transcription, assistant_text, audio, audio_complete. An empty transcript
// emits only the transcription frame.
func (o *Orchestrator) RunAudio(ctx context.Context, conv Conversation, audio []byte, out Emitter) error {
	text, err := Submit(ctx, o.pool, func(ctx context.Context) (string, error) {
		return o.transcriber.Transcribe(ctx, audio), nil
	})
	if err != nil {
		return err
	}

	o.emit(conv, out, protocol.Transcription(text))
	if text == "" {
		return nil
	}

	reply, err := o.respond(ctx, conv, text, out)
	if err != nil {
		return err
	}
	return o.speak(ctx, conv, reply, out)
}

// RunText answers text and speaks the answer only when the session has an
// active personality.
func (o *Orchestrator) RunText(ctx context.Context, conv Conversation, text string, out Emitter) error {
	reply, err := o.respond(ctx, conv, text, out)
	if err != nil {
		return err
	}

	if conv.Personality() == "" {
		o.logger.Debug("no personality, skipping synthesis", zap.String("session", conv.ID()))
		return nil
	}
	return o.speak(ctx, conv, reply, out)
}

func (o *Orchestrator) respond(ctx context.Context, conv Conversation, prompt string, out Emitter) (string, error) {
	conv.AppendTurn(conversation.UserTurn(prompt))

	reply, err := Submit(ctx, o.pool, func(ctx context.Context) (string, error) {
		return o.responder.Generate(ctx, prompt, conv.History())
	})
	if err != nil {
		return "", err
	}

	if reply == "" {
		reply = FallbackReply
	} else {
		conv.AppendTurn(conversation.AssistantTurn(reply))
	}

	o.emit(conv, out, protocol.AssistantText(reply))
	return reply, nil
}

func (o *Orchestrator) speak(ctx context.Context, conv Conversation, text string, out Emitter) error {
	personality := conv.Personality()
	audio, err := Submit(ctx, o.pool, func(ctx context.Context) ([]byte, error) {
		return o.synthesizer.Synthesize(ctx, text, personality)
	})
	if err != nil {
		return err
	}

	if err := out.SendAudio(audio); err != nil {
		o.logger.Debug("send audio failed", zap.String("session", conv.ID()), zap.Error(err))
	}
	o.emit(conv, out, protocol.AudioComplete())
	return nil
}

// emit sends msg. A failed send means the client is gone; the run carries on
// and its results are dropped.
func (o *Orchestrator) emit(conv Conversation, out Emitter, msg protocol.Outbound) {
	if err := out.Send(msg); err != nil {
		o.logger.Debug("send frame failed",
			zap.String("session", conv.ID()),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
}
