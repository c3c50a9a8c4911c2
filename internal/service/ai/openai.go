package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
	"github.com/zhouzirui/voice-assistant/backend/internal/model/conversation"
)

// OpenAIResponder calls an OpenAI compatible chat completions endpoint,
// LM Studio by default.
type OpenAIResponder struct {
	client openai.Client
	cfg    config.LLMConfig
	logger *zap.Logger
}

// NewOpenAIResponder creates a responder for cfg. Requests are not retried
// and carry cfg.Timeout.
func NewOpenAIResponder(cfg config.LLMConfig, logger *zap.Logger, opts ...option.RequestOption) *OpenAIResponder {
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "lm-studio"
	}
	base := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.APIURL, "/") + "/"),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIResponder{
		client: openai.NewClient(append(base, opts...)...),
		cfg:    cfg,
		logger: logger.Named("llm"),
	}
}

// Generate implements Responder.
func (r *OpenAIResponder) Generate(ctx context.Context, prompt string, history []conversation.Turn) (string, error) {
	turns := conversationTurns(prompt, history, r.cfg.HistoryLimit)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if r.cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(r.cfg.SystemPrompt))
	}
	for _, turn := range turns {
		switch turn.Role {
		case conversation.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(r.cfg.Model),
		Messages:    messages,
		Temperature: openai.Float(r.cfg.Temperature),
	}
	if r.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(r.cfg.MaxTokens))
	}

	completion, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrUpstreamGeneration, err)
	}
	if len(completion.Choices) == 0 {
		r.logger.Warn("completion has no choices", zap.String("model", r.cfg.Model))
		return "", nil
	}

	reply := completion.Choices[0].Message.Content
	r.logger.Debug("generated reply", zap.Int("messages", len(messages)), zap.Int("chars", len(reply)))
	return reply, nil
}
