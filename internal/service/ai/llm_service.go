package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
	"github.com/zhouzirui/voice-assistant/backend/internal/model/conversation"
)

// Service generates replies with an eino chain over an Ark chat model.
type Service struct {
	llm    config.LLMConfig
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewService creates the Ark backed responder.
func NewService(ctx context.Context, ark config.AIConfig, llm config.LLMConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := ark.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, llm, logger)
}

// NewServiceWithModel compiles the reply chain around chatModel.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, llm config.LLMConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	templates := make([]schema.MessagesTemplate, 0, 3)
	if llm.SystemPrompt != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates,
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, templates...))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		llm:    llm,
		chain:  runnable,
		logger: logger.Named("ai"),
	}, nil
}

// Generate implements Responder.
func (s *Service) Generate(ctx context.Context, query string, history []conversation.Turn) (string, error) {
	if s.llm.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.llm.Timeout)
		defer cancel()
	}

	turns := conversationTurns(query, history, s.llm.HistoryLimit)
	// the final turn is always the query and is rendered by the template
	input := map[string]any{
		"system":  s.llm.SystemPrompt,
		"history": toSchemaMessages(turns[:len(turns)-1]),
		"query":   query,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUpstreamGeneration, err)
	}
	if response == nil {
		return "", nil
	}

	s.logger.Debug("generated reply", zap.Int("history", len(turns)-1), zap.Int("chars", len(response.Content)))
	return response.Content, nil
}

func toSchemaMessages(turns []conversation.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}
	out := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleUser:
			out = append(out, schema.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			out = append(out, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return out
}
