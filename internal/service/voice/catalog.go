// Package voice builds the immutable catalog of synthesis personalities and
// resolves a requested personality to a loaded voice.
package voice

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/voice-assistant/backend/internal/errs"
	voicemodel "github.com/zhouzirui/voice-assistant/backend/internal/model/voice"
)

// Voice turns text into encoded audio bytes.
type Voice interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Factory loads the synthesis engine for a source. A load error excludes the
// source from the catalog.
type Factory interface {
	Load(ctx context.Context, src voicemodel.Source) (Voice, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, src voicemodel.Source) (Voice, error)

// Load implements Factory.
func (f FactoryFunc) Load(ctx context.Context, src voicemodel.Source) (Voice, error) {
	return f(ctx, src)
}

type catalogEntry struct {
	entry voicemodel.Entry
	voice Voice
}

// Catalog is read-only after Build and safe for concurrent use.
type Catalog struct {
	entries   []catalogEntry
	index     map[string]int
	defaultID string
	logger    *zap.Logger
}

// Build loads every source in order and keeps those whose engine loads.
// The entry whose id equals defaultID is flagged as default.
func Build(ctx context.Context, sources []voicemodel.Source, defaultID string, factory Factory, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		entries:   make([]catalogEntry, 0, len(sources)),
		index:     make(map[string]int, len(sources)),
		defaultID: defaultID,
		logger:    logger.Named("voices"),
	}

	for _, src := range sources {
		if _, dup := c.index[src.ID]; dup {
			c.logger.Warn("skipping duplicate voice id", zap.String("voice", src.ID), zap.String("file", src.File))
			continue
		}

		v, err := factory.Load(ctx, src)
		if err != nil {
			c.logger.Warn("skipping voice", zap.String("voice", src.ID), zap.String("engine", src.Engine), zap.Error(err))
			continue
		}

		c.index[src.ID] = len(c.entries)
		c.entries = append(c.entries, catalogEntry{
			entry: src.Entry(src.ID == defaultID),
			voice: v,
		})
		c.logger.Info("voice loaded", zap.String("voice", src.ID), zap.String("engine", src.Engine))
	}

	if len(c.entries) == 0 {
		c.logger.Warn("voice catalog is empty, synthesis is unavailable")
	}
	return c
}

// List returns the catalog entries in build order.
func (c *Catalog) List() []voicemodel.Entry {
	out := make([]voicemodel.Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.entry
	}
	return out
}

// Len reports the number of usable voices.
func (c *Catalog) Len() int { return len(c.entries) }

// Contains reports whether id names a catalog entry.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.index[id]
	return ok
}

// DefaultPersonality is the personality a new session starts with: the
// configured default if loaded, otherwise the first entry, otherwise "".
func (c *Catalog) DefaultPersonality() string {
	if c.Contains(c.defaultID) {
		return c.defaultID
	}
	if len(c.entries) > 0 {
		return c.entries[0].entry.ID
	}
	return ""
}

// Resolve returns the voice for id and the id actually used. Unknown ids
// fall back to the first entry without reporting the substitution.
func (c *Catalog) Resolve(id string) (Voice, string, error) {
	if i, ok := c.index[id]; ok {
		return c.entries[i].voice, id, nil
	}
	if len(c.entries) == 0 {
		return nil, "", errs.ErrSynthesisUnavailable
	}

	fallback := c.entries[0]
	c.logger.Debug("voice fallback", zap.String("requested", id), zap.String("used", fallback.entry.ID))
	return fallback.voice, fallback.entry.ID, nil
}

// Synthesize renders text with the resolved personality.
func (c *Catalog) Synthesize(ctx context.Context, text, personality string) ([]byte, error) {
	v, used, err := c.Resolve(personality)
	if err != nil {
		return nil, err
	}

	audio, err := v.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("synthesize with %s: %w", used, err)
	}
	return audio, nil
}
