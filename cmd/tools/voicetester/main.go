// voicetester exercises the configured speech backends without a browser:
// list the voice catalog, transcribe a file, or synthesize text with a voice.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/config"
	"github.com/zhouzirui/voice-assistant/backend/internal/logging"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/speech"
	"github.com/zhouzirui/voice-assistant/backend/internal/service/voice"
)

func main() {
	mode := flag.String("mode", "", "测试模式: voices, stt 或 tts")
	audioPath := flag.String("audio", "", "STT 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	voiceID := flag.String("voice", "", "TTS 音色 ID，默认使用目录默认音色")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认自动生成)")
	format := flag.String("format", "", "STT 输入格式，默认取文件扩展名")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}
	cfg.Log.File = ""
	cfg.Log.Format = "console"
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "voices":
		err = listVoices(ctx, cfg, logger)
	case "stt":
		err = runSTT(ctx, cfg, logger, *audioPath, *format, *language)
	case "tts":
		err = runTTS(ctx, cfg, logger, *text, *voiceID, *outputPath)
	default:
		flag.Usage()
		err = fmt.Errorf("请通过 -mode=voices, -mode=stt 或 -mode=tts 指定测试模式")
	}
	if err != nil {
		logger.Fatal("voicetester failed", zap.String("mode", *mode), zap.Error(err))
	}
}

func buildCatalog(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*voice.Catalog, error) {
	sources, err := voice.LoadSources(cfg.Voice.ConfigDir, cfg.Voice.ModelRoot, logger)
	if err != nil {
		return nil, err
	}
	return voice.Build(ctx, sources, cfg.Voice.DefaultPersonality, speech.VoiceFactory{
		PiperBinary: cfg.Voice.PiperBinary,
		Volcengine:  speech.NewVolcengineConfig(cfg.Speech),
		Logger:      logger,
	}, logger), nil
}

func listVoices(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	catalog, err := buildCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	for _, e := range catalog.List() {
		marker := " "
		if e.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %-24s %-10s %s\n", marker, e.ID, e.Engine, e.Label)
	}
	return nil
}

func runSTT(ctx context.Context, cfg *config.Config, logger *zap.Logger, audioPath, format, language string) error {
	if audioPath == "" {
		return fmt.Errorf("STT 模式需要通过 -audio 指定音频文件路径")
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("读取音频文件失败: %w", err)
	}

	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
	}
	if language == "" {
		language = cfg.STT.Language
	}

	recognizer, err := speech.NewRecognizer(cfg.STT, speech.NewVolcengineConfig(cfg.Speech), logger)
	if err != nil {
		return err
	}

	started := time.Now()
	text, err := recognizer.Recognize(ctx, audio, format, language)
	if err != nil {
		return err
	}
	logger.Info("transcribed",
		zap.String("provider", cfg.STT.Provider),
		zap.String("text", text),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

func runTTS(ctx context.Context, cfg *config.Config, logger *zap.Logger, text, voiceID, outputPath string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("TTS 模式需要通过 -text 提供待合成文本")
	}

	catalog, err := buildCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if voiceID == "" {
		voiceID = catalog.DefaultPersonality()
	}

	v, used, err := catalog.Resolve(voiceID)
	if err != nil {
		return err
	}
	audio, err := v.Synthesize(ctx, text)
	if err != nil {
		return err
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-%s-%d%s", used, time.Now().Unix(), extensionFor(audio))
	}
	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		return fmt.Errorf("写入音频文件失败: %w", err)
	}
	logger.Info("synthesized", zap.String("voice", used), zap.String("out", outputPath), zap.Int("bytes", len(audio)))
	return nil
}

// extensionFor sniffs WAV output from piper; cloud voices return mp3.
func extensionFor(audio []byte) string {
	if len(audio) >= 4 && string(audio[:4]) == "RIFF" {
		return ".wav"
	}
	return ".mp3"
}
