package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	asrChunkSize     = 6400 // 200ms of 16kHz 16bit mono PCM
	asrChunkInterval = 200 * time.Millisecond
)

// VolcengineRecognizer transcribes a complete audio buffer through the
// Volcengine bigmodel streaming-input ASR websocket.
type VolcengineRecognizer struct {
	conn          *volcengineConn
	chunkInterval time.Duration
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances,omitempty"`
	} `json:"result"`
}

// NewVolcengineRecognizer validates credentials and returns a recognizer.
func NewVolcengineRecognizer(cfg *VolcengineConfig, logger *zap.Logger) (*VolcengineRecognizer, error) {
	conn, err := newVolcengineConn(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &VolcengineRecognizer{conn: conn, chunkInterval: asrChunkInterval}, nil
}

// Recognize implements Recognizer.
func (r *VolcengineRecognizer) Recognize(ctx context.Context, audio []byte, format, language string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio to recognize")
	}

	ctx, cancel := context.WithTimeout(ctx, r.conn.timeout())
	defer cancel()

	resourceID := "volc.bigasr.sauc.duration"
	if r.conn.cfg.Concurrent {
		resourceID = "volc.bigasr.sauc.concurrent"
	}

	connectID := uuid.NewString()
	conn, err := r.conn.dial(ctx, asrPath, resourceID, connectID)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	payload, err := sonic.Marshal(r.buildRequest(connectID, format, language))
	if err != nil {
		return "", fmt.Errorf("marshal asr request: %w", err)
	}
	payload, err = compress(payload, GzipCompression)
	if err != nil {
		return "", err
	}
	if err := writeFrame(conn, fullClientRequest(payload, GzipCompression)); err != nil {
		return "", fmt.Errorf("send asr request: %w", err)
	}

	// Audio is streamed while results are consumed so a server error stops
	// the upload early.
	type result struct {
		text string
		err  error
	}
	recvCh := make(chan result, 1)
	go func() {
		text, err := r.receive(conn)
		recvCh <- result{text: text, err: err}
	}()

	sendCh := make(chan error, 1)
	go func() {
		sendCh <- r.sendAudio(ctx, conn, audio)
	}()

	for {
		select {
		case err := <-sendCh:
			if err != nil {
				return "", fmt.Errorf("send audio: %w", err)
			}
			sendCh = nil
		case res := <-recvCh:
			return strings.TrimSpace(res.text), res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (r *VolcengineRecognizer) buildRequest(uid, format, language string) *asrRequest {
	req := &asrRequest{}
	req.User.UID = uid

	req.Audio.Format, req.Audio.Codec = asrFormat(format)
	req.Audio.Language = strings.TrimSpace(language)
	if req.Audio.Language == "" {
		req.Audio.Language = r.conn.cfg.ASRLanguage
	}
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = r.conn.cfg.ASRModel
	if req.Request.ModelName == "" {
		req.Request.ModelName = "bigmodel"
	}
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// asrFormat maps a browser container name onto the format/codec pair the
// ASR service accepts.
func asrFormat(format string) (string, string) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "webm", "ogg", "opus":
		return "ogg", "opus"
	case "mp3":
		return "mp3", "raw"
	case "pcm":
		return "pcm", "raw"
	default:
		return "wav", "raw"
	}
}

func (r *VolcengineRecognizer) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	seq := int32(2) // the full client request takes sequence 1
	for start := 0; start < len(audio); start += asrChunkSize {
		end := min(start+asrChunkSize, len(audio))
		last := end == len(audio)

		chunk, err := compress(audio[start:end], GzipCompression)
		if err != nil {
			return err
		}
		if err := writeFrame(conn, audioRequest(chunk, seq, last, GzipCompression)); err != nil {
			return err
		}
		seq++

		if last || r.chunkInterval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.chunkInterval):
		}
	}
	return nil
}

func (r *VolcengineRecognizer) receive(conn *websocket.Conn) (string, error) {
	var text string
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return "", fmt.Errorf("read asr response: %w", err)
		}

		body, err := framePayload(frame)
		if err != nil {
			return "", err
		}

		switch frame.Header.Type {
		case ErrorFrame:
			return "", fmt.Errorf("asr error %d: %s", frame.ErrorCode, string(body))

		case FullServerResponse:
			var msg asrServerMessage
			if err := sonic.Unmarshal(body, &msg); err != nil {
				r.conn.logger.Debug("asr payload is not json", zap.Error(err))
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				return "", fmt.Errorf("asr error %d: %s", msg.Code, msg.Message)
			}

			if candidate := msg.Result.Text; candidate != "" {
				text = candidate
			} else if len(msg.Result.Utterances) > 0 {
				parts := make([]string, 0, len(msg.Result.Utterances))
				for _, u := range msg.Result.Utterances {
					parts = append(parts, u.Text)
				}
				text = strings.Join(parts, " ")
			}

			if frame.IsLast() || msg.Sequence < 0 {
				return text, nil
			}
		}
	}
}
