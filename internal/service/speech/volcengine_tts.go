package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

// VolcengineVoice synthesizes one speaker through the Volcengine
// unidirectional TTS websocket.
type VolcengineVoice struct {
	conn    *volcengineConn
	speaker string
	format  string
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// NewVolcengineVoice returns a voice for speaker. The configured TTSVoice
// is tried when speaker is rejected by every resource id.
func NewVolcengineVoice(cfg *VolcengineConfig, speaker string, logger *zap.Logger) (*VolcengineVoice, error) {
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		speaker = strings.TrimSpace(cfg.TTSVoice)
	}
	if speaker == "" {
		return nil, errors.New("volcengine voice requires a speaker")
	}

	conn, err := newVolcengineConn(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &VolcengineVoice{conn: conn, speaker: speaker, format: "mp3"}, nil
}

// Synthesize returns encoded audio for text.
func (v *VolcengineVoice) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts text is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, v.conn.timeout())
	defer cancel()

	var lastMismatch error
	for _, speaker := range speakerCandidates(v.speaker, v.conn.cfg.TTSVoice) {
		for _, resourceID := range resourceCandidates(speaker) {
			audio, err := v.synthesizeOnce(ctx, text, speaker, resourceID)
			if err == nil {
				return audio, nil
			}
			if !errors.Is(err, errResourceMismatch) {
				return nil, err
			}
			v.conn.logger.Debug("tts resource mismatch",
				zap.String("speaker", speaker), zap.String("resource", resourceID))
			lastMismatch = err
		}
	}

	return nil, fmt.Errorf("no compatible resource for speaker %s: %w", v.speaker, lastMismatch)
}

func (v *VolcengineVoice) synthesizeOnce(ctx context.Context, text, speaker, resourceID string) ([]byte, error) {
	connectID := uuid.NewString()
	conn, err := v.conn.dial(ctx, ttsPath, resourceID, connectID)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	payload, err := sonic.Marshal(v.buildRequest(text, speaker, connectID))
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := writeFrame(conn, fullClientRequest(payload, NoCompression)); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	var audio bytes.Buffer
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("read tts response: %w", err)
		}

		body, err := framePayload(frame)
		if err != nil {
			return nil, err
		}

		switch frame.Header.Type {
		case ErrorFrame:
			return nil, ttsError(frame.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			audio.Write(body)
			if frame.IsLast() {
				return finishAudio(&audio)
			}

		case FullServerResponse:
			var msg ttsServerMessage
			if len(body) > 0 {
				if err := sonic.Unmarshal(body, &msg); err != nil {
					v.conn.logger.Debug("tts payload is not json", zap.Error(err))
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, ttsError(uint32(msg.Code), msg.Message)
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode tts audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := frame.Header.Flags&WithEvent != 0 && frame.Event == EventSessionFinished
			if finished || frame.IsLast() || msg.Sequence < 0 {
				return finishAudio(&audio)
			}

		default:
			v.conn.logger.Debug("unexpected tts frame", zap.Uint8("type", uint8(frame.Header.Type)))
		}
	}
}

func (v *VolcengineVoice) buildRequest(text, speaker, uid string) *ttsRequest {
	cfg := v.conn.cfg
	req := &ttsRequest{}
	req.User.UID = uid
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = v.format
	req.ReqParams.AudioParams.SampleRate = 24000
	if cfg.TTSSpeed > 0 && cfg.TTSSpeed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = cfg.TTSSpeed
	}
	if cfg.TTSVolume > 0 && cfg.TTSVolume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = cfg.TTSVolume
	}
	req.ReqParams.Language = strings.TrimSpace(cfg.TTSLanguage)
	req.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return req
}

func finishAudio(buf *bytes.Buffer) ([]byte, error) {
	if buf.Len() == 0 {
		return nil, errors.New("tts returned no audio")
	}
	return buf.Bytes(), nil
}

func ttsError(code uint32, message string) error {
	if strings.Contains(message, errResourceMismatch.Error()) {
		return fmt.Errorf("tts error %d: %w", code, errResourceMismatch)
	}
	return fmt.Errorf("tts error %d: %s", code, message)
}

// resourceCandidates orders the resource ids worth trying for a speaker.
func resourceCandidates(speaker string) []string {
	const (
		standardResource = "volc.service_type.10029"
		cloneResource    = "volc.megatts.default"
		seedResource     = "seed-tts-2.0"
	)

	speaker = strings.TrimSpace(speaker)
	if strings.HasPrefix(speaker, "S_") {
		return []string{cloneResource}
	}

	lower := strings.ToLower(speaker)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(lower, hint) {
			return []string{seedResource, standardResource}
		}
	}
	return []string{standardResource, seedResource}
}

// speakerCandidates returns the non-empty speakers, case-insensitively
// de-duplicated, in order.
func speakerCandidates(speakers ...string) []string {
	out := make([]string, 0, len(speakers))
	for _, s := range speakers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}
