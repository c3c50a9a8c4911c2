package speech

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	voicemodel "github.com/zhouzirui/voice-assistant/backend/internal/model/voice"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/voice"
)

// VoiceFactory loads the synthesis engine named by a voice source.
type VoiceFactory struct {
	PiperBinary string
	// Volcengine is nil when cloud speech credentials are not configured.
	Volcengine *VolcengineConfig
	Logger     *zap.Logger
}

// Load implements voice.Factory.
func (f VoiceFactory) Load(_ context.Context, src voicemodel.Source) (voice.Voice, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("voice", src.ID))

	switch src.Engine {
	case voicemodel.EnginePiper, "":
		return NewPiperVoice(f.PiperBinary, src, logger)
	case voicemodel.EngineVolcengine:
		if f.Volcengine == nil {
			return nil, fmt.Errorf("volcengine speech is not configured")
		}
		return NewVolcengineVoice(f.Volcengine, src.Speaker, logger)
	default:
		return nil, fmt.Errorf("unsupported engine %q", src.Engine)
	}
}
