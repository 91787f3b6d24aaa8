// Package identity generates, evolves and scores per-profile browser identities.
package identity

import (
	"fmt"
	"math/rand/v2"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/models"
)

const (
	maxSeed = 1<<31 - 1

	// Natural evolution bounds
	seedDrift  = 50
	noiseDrift = 0.05
)

// Engine builds and mutates identities. It holds no identity state;
// callers serialize mutations of the same identity.
type Engine struct {
	mu      sync.Mutex
	rng     *rand.Rand
	now     func() time.Time
	newID   func() string
	weights Weights
	logger  zerolog.Logger
}

// Option customizes an Engine
type Option func(*Engine)

// WithRand sets the random source, for reproducible identities
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithWeights overrides the consistency deductions
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// NewEngine creates an identity engine
func NewEngine(cfg *config.IdentityConfig, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:     time.Now,
		newID:   uuid.NewString,
		weights: DefaultWeights,
		logger:  logger.With().Str("component", "identity").Logger(),
	}
	if cfg != nil {
		e.weights = WeightsFromConfig(cfg.Deductions)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Weights returns the deductions used for scoring
func (e *Engine) Weights() Weights {
	return e.weights
}

// Generate draws a fresh identity for a profile. Override values win over the random draw field by field;
// a user agent or timezone override also narrows the preset pools so the rest of the draw agrees with it.
func (e *Engine) Generate(profileID string, overrides map[string]any) (models.Identity, error) {
	resolved, err := resolveChanges(overrides)
	if err != nil {
		return models.Identity{}, err
	}

	e.mu.Lock()
	traits := e.drawTraits(overrideString(resolved, "browser.userAgent"), overrideString(resolved, "locale.timezone"))
	behavior := e.drawBehavior()
	e.mu.Unlock()

	languageSet := false
	for _, c := range resolved {
		c.field.set(&traits, c.value)
		if c.path == "locale.languages" {
			languageSet = true
		}
	}
	if lang := overrideString(resolved, "locale.language"); lang != "" && !languageSet {
		traits.Locale.Languages = languageList(lang)
	}

	now := e.now().UTC()
	id := models.Identity{
		ID:              e.newID(),
		ProfileID:       profileID,
		CreatedAt:       now,
		LastMutatedAt:   now,
		Generation:      1,
		Traits:          traits,
		Mutations:       []models.MutationRecord{},
		BehaviorPattern: behavior,
	}
	id.Consistency = Score(id.Traits, e.weights)

	e.logger.Info().
		Str("profileId", profileID).
		Str("identityId", id.ID).
		Int("consistency", id.Consistency).
		Int("overrides", len(resolved)).
		Msg("Generated identity")

	return id, nil
}

// Mutate returns the next generation of an identity. With explicit changes each differing leaf is
// updated and recorded; with none and the natural_evolution reason only drift-safe noise fields move.
// The input value is not modified.
func (e *Engine) Mutate(id models.Identity, reason models.MutationReason, changes map[string]any) (models.Identity, error) {
	if !reason.Valid() {
		return models.Identity{}, fmt.Errorf("%w: unknown mutation reason %q", ErrInvalidValue, reason)
	}

	resolved, err := resolveChanges(changes)
	if err != nil {
		return models.Identity{}, err
	}

	next := id.Clone()
	now := e.now().UTC()

	var records []models.MutationRecord
	switch {
	case len(resolved) > 0:
		for _, c := range resolved {
			old := c.field.get(&next.Traits)
			if reflect.DeepEqual(old, c.value) {
				continue
			}
			c.field.set(&next.Traits, c.value)
			records = append(records, e.record(now, c.path, old, c.value, reason, false))
		}
	case reason == models.ReasonNaturalEvolution:
		records = e.evolve(&next.Traits, now)
	}

	next.Mutations = append(next.Mutations, records...)
	if over := len(next.Mutations) - models.MaxMutations; over > 0 {
		next.Mutations = append([]models.MutationRecord(nil), next.Mutations[over:]...)
	}
	next.Generation = id.Generation + 1
	next.LastMutatedAt = now
	next.Consistency = Score(next.Traits, e.weights)

	e.logger.Debug().
		Str("profileId", next.ProfileID).
		Str("reason", string(reason)).
		Int("generation", next.Generation).
		Int("changes", len(records)).
		Int("consistency", next.Consistency).
		Msg("Mutated identity")

	return next, nil
}

// evolve applies bounded drift to the canvas seed and the audio noise level
func (e *Engine) evolve(t *models.Traits, now time.Time) []models.MutationRecord {
	e.mu.Lock()
	seedStep := int64(1 + e.rng.IntN(seedDrift))
	if e.rng.IntN(2) == 0 {
		seedStep = -seedStep
	}
	factor := (e.rng.Float64()*2 - 1) * noiseDrift
	e.mu.Unlock()

	seed := t.Canvas.NoiseSeed + seedStep
	if seed < 1 || seed > maxSeed {
		seed = t.Canvas.NoiseSeed - seedStep
	}
	if factor == 0 {
		factor = noiseDrift / 2
	}
	noise := t.Audio.NoiseLevel * (1 + factor)

	records := []models.MutationRecord{
		e.record(now, "canvas.noiseSeed", t.Canvas.NoiseSeed, seed, models.ReasonNaturalEvolution, true),
	}
	t.Canvas.NoiseSeed = seed

	if noise != t.Audio.NoiseLevel {
		records = append(records, e.record(now, "audio.noiseLevel", t.Audio.NoiseLevel, noise, models.ReasonNaturalEvolution, true))
		t.Audio.NoiseLevel = noise
	}
	return records
}

func (e *Engine) record(now time.Time, path string, old, value any, reason models.MutationReason, gradual bool) models.MutationRecord {
	return models.MutationRecord{
		ID:        e.newID(),
		Timestamp: now,
		Field:     path,
		OldValue:  old,
		NewValue:  value,
		Reason:    reason,
		Gradual:   gradual,
	}
}

// drawTraits picks one bundle per trait group; callers hold e.mu
func (e *Engine) drawTraits(userAgent, timezone string) models.Traits {
	presets := presetsFor(userAgent)
	p := presets[e.rng.IntN(len(presets))]
	gpu := p.gpus[e.rng.IntN(len(p.gpus))]
	screen := p.screens[e.rng.IntN(len(p.screens))]
	hw := p.hardware[e.rng.IntN(len(p.hardware))]

	locales := localesFor(timezone)
	locale := locales[e.rng.IntN(len(locales))]

	return models.Traits{
		Hardware: models.HardwareTraits{
			GPUVendor:    gpu.vendor,
			GPURenderer:  gpu.model,
			CPUCores:     hw.cores,
			DeviceMemory: hw.memory,
			TouchPoints:  0,
		},
		Screen: models.ScreenTraits{
			Width:      screen.width,
			Height:     screen.height,
			ColorDepth: screen.colorDepth,
			PixelRatio: screen.pixelRatio,
		},
		Locale: models.LocaleTraits{
			Timezone:  locale.timezone,
			Language:  locale.language,
			Languages: append([]string(nil), locale.languages...),
			Country:   locale.country,
		},
		Browser: models.BrowserTraits{
			UserAgent: userAgentFor(p, chromeVersions[e.rng.IntN(len(chromeVersions))]),
			Platform:  p.navigator,
			Vendor:    browserVendor,
		},
		WebGL: models.WebGLTraits{
			Vendor:          gpu.webglVendor,
			Renderer:        gpu.webglRenderer,
			Version:         webglVersion,
			ShadingLanguage: webglShadingLanguage,
		},
		Audio: models.AudioTraits{
			SampleRate:   sampleRates[e.rng.IntN(len(sampleRates))],
			ChannelCount: 2,
			NoiseLevel:   0.00001 + e.rng.Float64()*0.00009,
		},
		Canvas: models.CanvasTraits{
			NoiseSeed:      1 + e.rng.Int64N(maxSeed),
			ColorVariation: 1 + e.rng.IntN(3),
		},
	}
}

// drawBehavior picks the automation pacing hints; callers hold e.mu
func (e *Engine) drawBehavior() models.BehaviorPattern {
	typingMin := 40 + e.rng.IntN(50)
	mouseMin := 0.6 + e.rng.Float64()*0.4

	start := 7 + e.rng.IntN(4)
	span := 8 + e.rng.IntN(5)
	hours := make([]int, 0, span)
	for h := start; h < start+span; h++ {
		hours = append(hours, h%24)
	}

	styles := []models.ScrollStyle{models.ScrollSmooth, models.ScrollStepped, models.ScrollFling}

	return models.BehaviorPattern{
		TypingDelayMinMs: typingMin,
		TypingDelayMaxMs: typingMin + 60 + e.rng.IntN(90),
		MouseSpeedMin:    mouseMin,
		MouseSpeedMax:    mouseMin + 0.3 + e.rng.Float64()*0.5,
		ActiveHours:      hours,
		ScrollStyle:      styles[e.rng.IntN(len(styles))],
	}
}

func overrideString(changes []change, path string) string {
	for _, c := range changes {
		if c.path == path {
			if s, ok := c.value.(string); ok {
				return s
			}
		}
	}
	return ""
}
