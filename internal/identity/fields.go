package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"identity-orchestrator/internal/models"
)

var (
	// ErrUnknownField is returned for a dotted path that names no trait leaf
	ErrUnknownField = errors.New("unknown identity field")
	// ErrInvalidValue is returned when a value cannot be coerced to the field's type or range
	ErrInvalidValue = errors.New("invalid identity field value")
)

// field binds one dotted trait path to its typed accessor
type field struct {
	get    func(*models.Traits) any
	coerce func(any) (any, error)
	set    func(*models.Traits, any)
}

func bind[T any](ptr func(*models.Traits) *T, coerce func(any) (T, error)) field {
	return field{
		get: func(t *models.Traits) any { return *ptr(t) },
		coerce: func(v any) (any, error) {
			return coerce(v)
		},
		set: func(t *models.Traits, v any) { *ptr(t) = v.(T) },
	}
}

var fields = map[string]field{
	"hardware.gpuVendor":    bind(func(t *models.Traits) *string { return &t.Hardware.GPUVendor }, nonEmptyString),
	"hardware.gpuRenderer":  bind(func(t *models.Traits) *string { return &t.Hardware.GPURenderer }, nonEmptyString),
	"hardware.cpuCores":     bind(func(t *models.Traits) *int { return &t.Hardware.CPUCores }, positiveInt),
	"hardware.deviceMemory": bind(func(t *models.Traits) *int { return &t.Hardware.DeviceMemory }, positiveInt),
	"hardware.touchPoints":  bind(func(t *models.Traits) *int { return &t.Hardware.TouchPoints }, nonNegativeInt),

	"screen.width":      bind(func(t *models.Traits) *int { return &t.Screen.Width }, positiveInt),
	"screen.height":     bind(func(t *models.Traits) *int { return &t.Screen.Height }, positiveInt),
	"screen.colorDepth": bind(func(t *models.Traits) *int { return &t.Screen.ColorDepth }, positiveInt),
	"screen.pixelRatio": bind(func(t *models.Traits) *float64 { return &t.Screen.PixelRatio }, positiveFloat),

	"locale.timezone":  bind(func(t *models.Traits) *string { return &t.Locale.Timezone }, nonEmptyString),
	"locale.language":  bind(func(t *models.Traits) *string { return &t.Locale.Language }, nonEmptyString),
	"locale.languages": bind(func(t *models.Traits) *[]string { return &t.Locale.Languages }, stringList),
	"locale.country":   bind(func(t *models.Traits) *string { return &t.Locale.Country }, nonEmptyString),

	"browser.userAgent": bind(func(t *models.Traits) *string { return &t.Browser.UserAgent }, nonEmptyString),
	"browser.platform":  bind(func(t *models.Traits) *string { return &t.Browser.Platform }, nonEmptyString),
	"browser.vendor":    bind(func(t *models.Traits) *string { return &t.Browser.Vendor }, anyString),

	"webgl.vendor":          bind(func(t *models.Traits) *string { return &t.WebGL.Vendor }, nonEmptyString),
	"webgl.renderer":        bind(func(t *models.Traits) *string { return &t.WebGL.Renderer }, nonEmptyString),
	"webgl.version":         bind(func(t *models.Traits) *string { return &t.WebGL.Version }, nonEmptyString),
	"webgl.shadingLanguage": bind(func(t *models.Traits) *string { return &t.WebGL.ShadingLanguage }, nonEmptyString),

	"audio.sampleRate":   bind(func(t *models.Traits) *int { return &t.Audio.SampleRate }, positiveInt),
	"audio.channelCount": bind(func(t *models.Traits) *int { return &t.Audio.ChannelCount }, positiveInt),
	"audio.noiseLevel":   bind(func(t *models.Traits) *float64 { return &t.Audio.NoiseLevel }, nonNegativeFloat),

	"canvas.noiseSeed":      bind(func(t *models.Traits) *int64 { return &t.Canvas.NoiseSeed }, canvasSeed),
	"canvas.colorVariation": bind(func(t *models.Traits) *int { return &t.Canvas.ColorVariation }, colorVariation),
}

// Fields lists every mutable dotted path in sorted order
func Fields() []string {
	out := make([]string, 0, len(fields))
	for path := range fields {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// change is one validated assignment
type change struct {
	path  string
	field field
	value any
}

// resolveChanges validates a change set before anything is applied, in sorted path order
func resolveChanges(changes map[string]any) ([]change, error) {
	paths := make([]string, 0, len(changes))
	for path := range changes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := make([]change, 0, len(paths))
	for _, path := range paths {
		f, ok := fields[path]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, path)
		}
		v, err := f.coerce(changes[path])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, path, err)
		}
		out = append(out, change{path: path, field: f, value: v})
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("expected an integer, got %v", f)
	}
	return int64(f), nil
}

func positiveInt(v any) (int, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return int(n), nil
}

func nonNegativeInt(v any) (int, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("must not be negative, got %d", n)
	}
	return int(n), nil
}

func colorVariation(v any) (int, error) {
	n, err := nonNegativeInt(v)
	if err != nil {
		return 0, err
	}
	if n > 255 {
		return 0, fmt.Errorf("must be at most 255, got %d", n)
	}
	return n, nil
}

func canvasSeed(v any) (int64, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > maxSeed {
		return 0, fmt.Errorf("must be in [1, %d], got %d", maxSeed, n)
	}
	return n, nil
}

func positiveFloat(v any) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("must be positive, got %v", f)
	}
	return f, nil
}

func nonNegativeFloat(v any) (float64, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("must not be negative, got %v", f)
	}
	return f, nil
}

func anyString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected a string, got %T", v)
	}
	return s, nil
}

func nonEmptyString(v any) (string, error) {
	s, err := anyString(v)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", errors.New("must not be empty")
	}
	return s, nil
}

func stringList(v any) ([]string, error) {
	var out []string
	switch l := v.(type) {
	case []string:
		out = append(out, l...)
	case []any:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings, got element %T", item)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
	if len(out) == 0 {
		return nil, errors.New("must not be empty")
	}
	return out, nil
}
