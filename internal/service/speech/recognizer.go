package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
)

// Recognizer converts a complete audio buffer into text. Implementations
// may fail; Transcriber absorbs those failures.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, format, language string) (string, error)
}

// NewRecognizer picks the backend named by cfg.Provider. volc is the
// Volcengine client config and may be nil when credentials are absent.
func NewRecognizer(cfg config.STTConfig, volc *VolcengineConfig, logger *zap.Logger) (Recognizer, error) {
	switch cfg.Provider {
	case config.ProviderVolcengine:
		if volc == nil {
			return nil, errors.New("STT_PROVIDER=volcengine requires SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")
		}
		return NewVolcengineRecognizer(volc, logger)
	case config.ProviderOpenAI, "":
		return NewOpenAIRecognizer(cfg.APIURL, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported stt provider %q", cfg.Provider)
	}
}

// Transcriber wraps a Recognizer so that recognition never fails: any error
// becomes an empty transcript.
type Transcriber struct {
	recognizer Recognizer
	format     string
	language   string
	logger     *zap.Logger
}

// NewTranscriber returns a Transcriber using format and language as the
// audio container and language hint.
func NewTranscriber(recognizer Recognizer, format, language string, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcriber{
		recognizer: recognizer,
		format:     format,
		language:   language,
		logger:     logger.Named("stt"),
	}
}

// Transcribe returns the trimmed transcript of audio, or "" on failure.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) string {
	if len(audio) == 0 {
		return ""
	}

	started := time.Now()
	text, err := t.recognizer.Recognize(ctx, audio, t.format, t.language)
	if err != nil {
		t.logger.Warn("transcription failed", zap.Int("bytes", len(audio)), zap.Error(err))
		return ""
	}

	text = strings.TrimSpace(text)
	t.logger.Debug("transcribed",
		zap.Int("bytes", len(audio)),
		zap.Int("chars", len(text)),
		zap.Duration("took", time.Since(started)),
	)
	return text
}

// OpenAIRecognizer calls an OpenAI compatible /audio/transcriptions endpoint,
// such as a local faster-whisper server.
type OpenAIRecognizer struct {
	client openai.Client
	model  string
}

// NewOpenAIRecognizer creates a recognizer against baseURL.
func NewOpenAIRecognizer(baseURL, apiKey, model string, opts ...option.RequestOption) *OpenAIRecognizer {
	if apiKey == "" {
		// local servers ignore the key but the client requires one
		apiKey = "not-needed"
	}
	base := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithAPIKey(apiKey),
	}
	return &OpenAIRecognizer{
		client: openai.NewClient(append(base, opts...)...),
		model:  model,
	}
}

// Recognize implements Recognizer.
func (r *OpenAIRecognizer) Recognize(ctx context.Context, audio []byte, format, language string) (string, error) {
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		format = "webm"
	}

	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(r.model),
		File:  openai.File(bytes.NewReader(audio), "audio."+format, "audio/"+format),
	}
	if language = strings.TrimSpace(language); language != "" {
		params.Language = openai.String(language)
	}

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}
