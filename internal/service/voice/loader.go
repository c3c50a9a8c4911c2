package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	voicemodel "github.com/zhouzirui/voice-assistant/backend/internal/model/voice"
)

var sourceExtensions = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// LoadSources reads every voice source file in dir, in lexical filename
// order, and resolves model references against modelRoot. A missing dir
// yields no sources. Files that cannot be parsed or lack an id or model
// reference are skipped.
func LoadSources(dir, modelRoot string, logger *zap.Logger) ([]voicemodel.Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("voice config directory not found", zap.String("dir", dir))
			return nil, nil
		}
		return nil, fmt.Errorf("read voice config dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !sourceExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	sources := make([]voicemodel.Source, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		src, err := parseSource(path, modelRoot)
		if err != nil {
			logger.Warn("skipping voice source", zap.String("file", path), zap.Error(err))
			continue
		}
		sources = append(sources, src)
	}

	return sources, nil
}

func parseSource(path, modelRoot string) (voicemodel.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return voicemodel.Source{}, err
	}

	var src voicemodel.Source
	if err := yaml.Unmarshal(data, &src); err != nil {
		return voicemodel.Source{}, fmt.Errorf("parse: %w", err)
	}

	src.File = path
	src.ID = strings.TrimSpace(src.ID)
	if src.ID == "" {
		src.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if src.Label == "" {
		src.Label = defaultLabel(src.ID)
	}
	src.Engine = strings.ToLower(strings.TrimSpace(src.Engine))
	if src.Engine == "" {
		src.Engine = voicemodel.EnginePiper
	}

	switch src.Engine {
	case voicemodel.EnginePiper:
		if src.ModelFilename == "" {
			return voicemodel.Source{}, errors.New("model_filename is required")
		}
	case voicemodel.EngineVolcengine:
		if src.Speaker == "" {
			return voicemodel.Source{}, errors.New("speaker is required")
		}
	default:
		return voicemodel.Source{}, fmt.Errorf("unsupported engine %q", src.Engine)
	}

	resolvePaths(&src, modelRoot)
	return src, nil
}

// resolvePaths fills ModelPath and ConfigPath. An explicit config_filename
// wins when it exists; otherwise "<model>.json" next to the model is used if
// present.
func resolvePaths(src *voicemodel.Source, modelRoot string) {
	if src.ModelFilename == "" {
		return
	}

	src.ModelPath = absPath(filepath.Join(modelRoot, src.ModelFilename))

	if src.ConfigFilename != "" {
		candidate := absPath(filepath.Join(modelRoot, src.ConfigFilename))
		if fileExists(candidate) {
			src.ConfigPath = candidate
		}
		return
	}

	if candidate := src.ModelPath + ".json"; fileExists(candidate) {
		src.ConfigPath = candidate
	}
}

func defaultLabel(id string) string {
	words := strings.NewReplacer("_", " ", "-", " ").Replace(id)
	return cases.Title(language.English).String(words)
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
