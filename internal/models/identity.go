// Package models contains shared data structures for the identity orchestrator.
package models

import (
	"time"
)

// MaxMutations is the number of mutation records an identity keeps
const MaxMutations = 100

// MutationReason tags why an identity field changed
type MutationReason string

const (
	ReasonNaturalEvolution MutationReason = "natural_evolution" // Small bounded drift applied by the scheduler
	ReasonLocationChange   MutationReason = "location_change"   // Proxy or locale moved
	ReasonBrowserUpdate    MutationReason = "browser_update"    // Browser version bump
	ReasonUserRequested    MutationReason = "user_requested"    // Explicit caller edit
	ReasonConsistencyFix   MutationReason = "consistency_fix"   // Repair of a scoring violation
	ReasonRiskReduction    MutationReason = "risk_reduction"    // Rotation after a detection signal
)

// Valid reports whether r is one of the known reasons
func (r MutationReason) Valid() bool {
	switch r {
	case ReasonNaturalEvolution, ReasonLocationChange, ReasonBrowserUpdate,
		ReasonUserRequested, ReasonConsistencyFix, ReasonRiskReduction:
		return true
	}
	return false
}

// Identity is the versioned bundle of spoofable traits owned by one profile
type Identity struct {
	ID              string           `json:"id"`
	ProfileID       string           `json:"profileId"`
	CreatedAt       time.Time        `json:"createdAt"`
	LastMutatedAt   time.Time        `json:"lastMutatedAt"`
	Generation      int              `json:"generation"`
	Traits          Traits           `json:"traits"`
	Mutations       []MutationRecord `json:"mutations"`
	Consistency     int              `json:"consistency"`
	BehaviorPattern BehaviorPattern  `json:"behaviorPattern"`
}

// Traits groups every spoofable parameter of an identity
type Traits struct {
	Hardware HardwareTraits `json:"hardware"`
	Screen   ScreenTraits   `json:"screen"`
	Locale   LocaleTraits   `json:"locale"`
	Browser  BrowserTraits  `json:"browser"`
	WebGL    WebGLTraits    `json:"webgl"`
	Audio    AudioTraits    `json:"audio"`
	Canvas   CanvasTraits   `json:"canvas"`
}

// HardwareTraits describes the emulated machine
type HardwareTraits struct {
	GPUVendor    string `json:"gpuVendor"`
	GPURenderer  string `json:"gpuRenderer"`
	CPUCores     int    `json:"cpuCores"`
	DeviceMemory int    `json:"deviceMemory"`
	TouchPoints  int    `json:"touchPoints"`
}

// ScreenTraits describes the emulated display
type ScreenTraits struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	ColorDepth int     `json:"colorDepth"`
	PixelRatio float64 `json:"pixelRatio"`
}

// LocaleTraits pairs a timezone with its language and country
type LocaleTraits struct {
	Timezone  string   `json:"timezone"`
	Language  string   `json:"language"`
	Languages []string `json:"languages"`
	Country   string   `json:"country"`
}

// BrowserTraits holds the navigator identity strings
type BrowserTraits struct {
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform"`
	Vendor    string `json:"vendor"`
}

// WebGLTraits holds the strings reported by WebGL parameter queries
type WebGLTraits struct {
	Vendor          string `json:"vendor"`
	Renderer        string `json:"renderer"`
	Version         string `json:"version"`
	ShadingLanguage string `json:"shadingLanguage"`
}

// AudioTraits drives audio buffer noise
type AudioTraits struct {
	SampleRate   int     `json:"sampleRate"`
	ChannelCount int     `json:"channelCount"`
	NoiseLevel   float64 `json:"noiseLevel"`
}

// CanvasTraits drives canvas readback noise
type CanvasTraits struct {
	NoiseSeed      int64 `json:"noiseSeed"`
	ColorVariation int   `json:"colorVariation"` // max per-channel delta
}

// MutationRecord is one append-only entry of an identity's change log
type MutationRecord struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Field     string         `json:"field"` // dotted path, e.g. "canvas.noiseSeed"
	OldValue  any            `json:"oldValue"`
	NewValue  any            `json:"newValue"`
	Reason    MutationReason `json:"reason"`
	Gradual   bool           `json:"gradual"`
}

// ScrollStyle describes how automation scrolls for this identity
type ScrollStyle string

const (
	ScrollSmooth  ScrollStyle = "smooth"
	ScrollStepped ScrollStyle = "stepped"
	ScrollFling   ScrollStyle = "fling"
)

// BehaviorPattern informs higher-level automation; it has no effect on spoofing
type BehaviorPattern struct {
	TypingDelayMinMs int         `json:"typingDelayMinMs"`
	TypingDelayMaxMs int         `json:"typingDelayMaxMs"`
	MouseSpeedMin    float64     `json:"mouseSpeedMin"`
	MouseSpeedMax    float64     `json:"mouseSpeedMax"`
	ActiveHours      []int       `json:"activeHours"`
	ScrollStyle      ScrollStyle `json:"scrollStyle"`
}

// Clone returns a deep copy so callers can mutate it freely
func (i Identity) Clone() Identity {
	out := i
	out.Traits.Locale.Languages = append([]string(nil), i.Traits.Locale.Languages...)
	out.Mutations = append([]MutationRecord(nil), i.Mutations...)
	out.BehaviorPattern.ActiveHours = append([]int(nil), i.BehaviorPattern.ActiveHours...)
	return out
}
