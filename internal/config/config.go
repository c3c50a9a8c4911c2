package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// LLM providers.
const (
	ProviderOpenAI     = "openai"
	ProviderArk        = "ark"
	ProviderVolcengine = "volcengine"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	LLM      LLMConfig
	AI       AIConfig
	STT      STTConfig
	Speech   SpeechConfig
	Voice    VoiceConfig
	Pipeline PipelineConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	llm, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	stt, err := loadSTTConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Log:      logCfg,
		LLM:      llm,
		AI:       ai,
		STT:      stt,
		Speech:   speech,
		Voice:    loadVoiceConfig(),
		Pipeline: pipeline,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	host := strings.TrimSpace(os.Getenv("HOST"))
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port}, nil
	}

	if _, err := strconv.Atoi(port); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: host + ":" + port}, nil
}

// LogConfig controls the zap logger and its optional rotating file sink.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func loadLogConfig() (LogConfig, error) {
	maxSize, err := parseIntEnv("LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return LogConfig{}, err
	}
	maxBackups, err := parseIntEnv("LOG_MAX_BACKUPS", 3)
	if err != nil {
		return LogConfig{}, err
	}
	maxAge, err := parseIntEnv("LOG_MAX_AGE_DAYS", 28)
	if err != nil {
		return LogConfig{}, err
	}
	compress, err := parseBoolEnv("LOG_COMPRESS", true)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		Format:     getEnvOrDefault("LOG_FORMAT", "json"),
		File:       strings.TrimSpace(os.Getenv("LOG_FILE")),
		MaxSizeMB:  maxSize,
		MaxBackups: maxBackups,
		MaxAgeDays: maxAge,
		Compress:   compress,
	}, nil
}

// LLMConfig 描述回复生成服务配置。默认对接 OpenAI 兼容接口（如 LM Studio）。
type LLMConfig struct {
	Provider     string
	APIURL       string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	SystemPrompt string
	HistoryLimit int
}

func loadLLMConfig() (LLMConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return LLMConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return LLMConfig{}, err
	}
	temp := 0.7
	if temperature != nil {
		temp = *temperature
	}

	maxTokens, err := parseIntEnv("LLM_MAX_TOKENS", 512)
	if err != nil {
		return LLMConfig{}, err
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 30*time.Second)
	if err != nil {
		return LLMConfig{}, err
	}

	historyLimit, err := parseIntEnv("LLM_HISTORY_LIMIT", 0)
	if err != nil {
		return LLMConfig{}, err
	}
	if historyLimit < 0 {
		historyLimit = 0
	}

	return LLMConfig{
		Provider:     provider,
		APIURL:       normalizeBaseURL(getEnvOrDefault("LLM_API_URL", "http://localhost:1234/v1"), "/chat/completions"),
		APIKey:       strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		Model:        getEnvOrDefault("LLM_MODEL", "qwen/qwen3-4b-2507"),
		Temperature:  temp,
		MaxTokens:    maxTokens,
		Timeout:      timeout,
		SystemPrompt: strings.TrimSpace(os.Getenv("LLM_SYSTEM_PROMPT")),
		HistoryLimit: historyLimit,
	}, nil
}

// AIConfig 描述火山方舟大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// STTConfig 描述语音识别配置。
type STTConfig struct {
	Provider    string
	APIURL      string
	APIKey      string
	Model       string
	Language    string
	AudioFormat string
}

func loadSTTConfig() (STTConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("STT_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderVolcengine {
		return STTConfig{}, fmt.Errorf("invalid STT_PROVIDER value %q", provider)
	}

	return STTConfig{
		Provider:    provider,
		APIURL:      normalizeBaseURL(getEnvOrDefault("STT_API_URL", "http://localhost:9000/v1"), "/audio/transcriptions"),
		APIKey:      strings.TrimSpace(os.Getenv("STT_API_KEY")),
		Model:       getEnvOrDefault("STT_MODEL", "whisper-1"),
		Language:    strings.TrimSpace(getEnvOrDefault("STT_LANGUAGE", "en")),
		AudioFormat: getEnvOrDefault("STT_AUDIO_FORMAT", "webm"),
	}, nil
}

// SpeechConfig 描述火山引擎语音服务相关配置
type SpeechConfig struct {
	AppID       string
	AccessToken string
	APIKey      string
	BaseURL     string
	Concurrent  bool
	ASRModel    string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	Timeout     int
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		APIKey:      apiKey,
		BaseURL:     getEnvOrDefault("SPEECH_BASE_URL", "wss://openspeech.bytedance.com"),
		Concurrent:  concurrent,
		ASRModel:    getEnvOrDefault("SPEECH_ASR_MODEL", "bigmodel"),
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "zh-CN"),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:    ttsSpeed,
		TTSVolume:   ttsVolume,
		TTSLanguage: getEnvOrDefault("SPEECH_TTS_LANGUAGE", "zh-CN"),
		Timeout:     timeoutSeconds,
		Enabled:     enabled,
	}, nil
}

// VoiceConfig 描述音色目录配置。
type VoiceConfig struct {
	ConfigDir          string
	ModelRoot          string
	PiperBinary        string
	DefaultPersonality string
}

func loadVoiceConfig() VoiceConfig {
	return VoiceConfig{
		ConfigDir:          getEnvOrDefault("VOICE_CONFIG_DIR", "voices"),
		ModelRoot:          getEnvOrDefault("PIPER_MODEL_ROOT", "models/piper"),
		PiperBinary:        getEnvOrDefault("PIPER_BINARY", "piper"),
		DefaultPersonality: getEnvOrDefault("DEFAULT_VOICE_PERSONALITY", "professional_female"),
	}
}

// PipelineConfig bounds the inference work shared by all sessions.
type PipelineConfig struct {
	Workers      int
	QueueTimeout time.Duration
}

func loadPipelineConfig() (PipelineConfig, error) {
	workers, err := parseIntEnv("PIPELINE_WORKERS", 4)
	if err != nil {
		return PipelineConfig{}, err
	}
	if workers < 1 {
		return PipelineConfig{}, fmt.Errorf("invalid PIPELINE_WORKERS value %d: must be >= 1", workers)
	}

	queueTimeout, err := parseDurationEnv("PIPELINE_QUEUE_TIMEOUT", 30*time.Second)
	if err != nil {
		return PipelineConfig{}, err
	}

	return PipelineConfig{Workers: workers, QueueTimeout: queueTimeout}, nil
}

// normalizeBaseURL accepts either an API base URL or a full endpoint URL and
// returns the base, which is what the OpenAI client expects.
func normalizeBaseURL(raw, endpoint string) string {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")
	url = strings.TrimSuffix(url, endpoint)
	return strings.TrimRight(url, "/")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

// parseDurationEnv accepts Go duration strings ("45s") or bare seconds ("45").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
