package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
	"github.com/zhouzirui/voice-assistant/backend/internal/model/conversation"
)

// Responder produces the assistant reply for prompt given the conversation
// so far. Failures wrap errs.ErrUpstreamGeneration.
type Responder interface {
	Generate(ctx context.Context, prompt string, history []conversation.Turn) (string, error)
}

// NewResponder builds the responder selected by cfg.LLM.Provider.
func NewResponder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Responder, error) {
	switch cfg.LLM.Provider {
	case config.ProviderArk:
		return NewService(ctx, cfg.AI, cfg.LLM, logger)
	case config.ProviderOpenAI, "":
		return NewOpenAIResponder(cfg.LLM, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLM.Provider)
	}
}

// conversationTurns returns the turns to send: the most recent limit turns
// of history (all when limit is 0), with prompt appended as the final user
// turn unless history already ends with it.
func conversationTurns(prompt string, history []conversation.Turn, limit int) []conversation.Turn {
	n := len(history)
	endsWithPrompt := n > 0 && history[n-1].Role == conversation.RoleUser && history[n-1].Content == prompt

	turns := make([]conversation.Turn, 0, n+1)
	turns = append(turns, history...)
	if !endsWithPrompt {
		turns = append(turns, conversation.UserTurn(prompt))
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}
