package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	voicemodel "github.com/zhouzirui/voice-assistant/backend/internal/model/voice"
)

// PiperVoice synthesizes WAV audio by running the piper CLI against a local
// ONNX voice model.
type PiperVoice struct {
	binary string
	source voicemodel.Source
	logger *zap.Logger
}

// NewPiperVoice checks that the model file and the piper binary exist.
func NewPiperVoice(binary string, src voicemodel.Source, logger *zap.Logger) (*PiperVoice, error) {
	if src.ModelPath == "" {
		return nil, errors.New("piper voice has no model path")
	}
	if info, err := os.Stat(src.ModelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", src.ModelPath, err)
	} else if info.IsDir() {
		return nil, fmt.Errorf("model path %s is a directory", src.ModelPath)
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("piper binary %q: %w", binary, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &PiperVoice{binary: resolved, source: src, logger: logger}, nil
}

// Synthesize implements voice.Voice.
func (p *PiperVoice) Synthesize(ctx context.Context, text string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "piper-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	out := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(out)

	cmd := exec.CommandContext(ctx, p.binary, p.args(out)...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper %s: %w: %s", p.source.ID, err, strings.TrimSpace(stderr.String()))
	}

	audio, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read piper output: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("piper %s produced no audio", p.source.ID)
	}
	return audio, nil
}

func (p *PiperVoice) args(output string) []string {
	args := []string{"--model", p.source.ModelPath, "--output-file", output}
	if p.source.ConfigPath != "" {
		args = append(args, "--config", p.source.ConfigPath)
	}

	syn := p.source.Synthesis
	if syn.SpeakerID != nil {
		args = append(args, "--speaker", strconv.Itoa(*syn.SpeakerID))
	}
	if syn.LengthScale != nil {
		args = append(args, "--length-scale", formatFloat(*syn.LengthScale))
	}
	if syn.NoiseScale != nil {
		args = append(args, "--noise-scale", formatFloat(*syn.NoiseScale))
	}
	if syn.NoiseWScale != nil {
		args = append(args, "--noise-w-scale", formatFloat(*syn.NoiseWScale))
	}
	if syn.Volume != nil {
		args = append(args, "--volume", formatFloat(*syn.Volume))
	}
	return args
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
