package speech

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
)

const (
	asrPath = "/api/v3/sauc/bigmodel_nostream"
	ttsPath = "/api/v3/tts/unidirectional/stream"

	defaultSpeechBaseURL = "wss://openspeech.bytedance.com"
)

// VolcengineConfig carries the openspeech credentials and defaults shared by
// the ASR and TTS clients.
type VolcengineConfig struct {
	AppID       string
	AccessToken string
	APIKey      string // legacy alias for AccessToken
	BaseURL     string
	Concurrent  bool // concurrent ASR resource instead of the hourly one

	ASRModel    string
	ASRLanguage string

	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string

	Timeout int // seconds
}

// NewVolcengineConfig returns the client settings from cfg, or nil when
// credentials are not configured.
func NewVolcengineConfig(cfg config.SpeechConfig) *VolcengineConfig {
	if !cfg.Enabled {
		return nil
	}
	return &VolcengineConfig{
		AppID:       cfg.AppID,
		AccessToken: cfg.AccessToken,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Concurrent:  cfg.Concurrent,
		ASRModel:    cfg.ASRModel,
		ASRLanguage: cfg.ASRLanguage,
		TTSVoice:    cfg.TTSVoice,
		TTSSpeed:    cfg.TTSSpeed,
		TTSVolume:   cfg.TTSVolume,
		TTSLanguage: cfg.TTSLanguage,
		Timeout:     cfg.Timeout,
	}
}

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func resolveCredentials(cfg *VolcengineConfig) (string, string, error) {
	if cfg == nil {
		return "", "", fmt.Errorf("volcengine speech config is not initialised")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", fmt.Errorf("volcengine speech config is missing AppID or AccessToken")
	}
	return appID, token, nil
}

// volcengineConn holds what the ASR and TTS clients share: credentials,
// endpoint base and the websocket dialer.
type volcengineConn struct {
	cfg    *VolcengineConfig
	appID  string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger
}

func newVolcengineConn(cfg *VolcengineConfig, logger *zap.Logger) (*volcengineConn, error) {
	appID, token, err := resolveCredentials(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &volcengineConn{
		cfg:    cfg,
		appID:  appID,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger: logger,
	}, nil
}

func (c *volcengineConn) endpoint(path string) string {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	if base == "" {
		base = defaultSpeechBaseURL
	}
	return base + path
}

func (c *volcengineConn) timeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return time.Duration(c.cfg.Timeout) * time.Second
	}
	return 30 * time.Second
}

// dial opens a websocket to path with the openspeech auth headers. The
// connection's deadlines follow ctx.
func (c *volcengineConn) dial(ctx context.Context, path, resourceID, connectID string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-Api-App-Key", c.appID)
	header.Set("X-Api-Access-Key", c.token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint(path), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debug("volcengine connected", zap.String("path", path), zap.String("logid", logid))
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	return conn, nil
}

func writeFrame(conn *websocket.Conn, f *Frame) error {
	return conn.WriteMessage(websocket.BinaryMessage, f.Marshal())
}

func readFrame(conn *websocket.Conn) (*Frame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return UnmarshalFrame(data)
}
