package identity

import (
	"strings"

	"github.com/avct/uasurfer"

	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/models"
)

// Weights are the points deducted per violated consistency rule
type Weights struct {
	PlatformMismatch int
	GPUMismatch      int
	MemoryCores      int
	AspectRatio      int
}

// DefaultWeights are the stock deductions
var DefaultWeights = Weights{
	PlatformMismatch: 30,
	GPUMismatch:      20,
	MemoryCores:      15,
	AspectRatio:      10,
}

// WeightsFromConfig converts configured deductions
func WeightsFromConfig(d config.Deductions) Weights {
	return Weights{
		PlatformMismatch: d.PlatformMismatch,
		GPUMismatch:      d.GPUMismatch,
		MemoryCores:      d.MemoryCores,
		AspectRatio:      d.AspectRatio,
	}
}

// Violation names one failed consistency rule
type Violation string

const (
	ViolationPlatform    Violation = "platform_mismatch"
	ViolationGPU         Violation = "gpu_mismatch"
	ViolationMemoryCores Violation = "memory_cores"
	ViolationAspectRatio Violation = "aspect_ratio"
)

// Score rates how well the traits agree with each other, from 0 to 100
func Score(t models.Traits, w Weights) int {
	score := 100
	for _, v := range Check(t) {
		switch v {
		case ViolationPlatform:
			score -= w.PlatformMismatch
		case ViolationGPU:
			score -= w.GPUMismatch
		case ViolationMemoryCores:
			score -= w.MemoryCores
		case ViolationAspectRatio:
			score -= w.AspectRatio
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// Check lists the violated rules; the rules are independent of each other
func Check(t models.Traits) []Violation {
	var out []Violation

	if family := platformFamily(t.Browser.UserAgent); family != "" && !strings.HasPrefix(t.Browser.Platform, family) {
		out = append(out, ViolationPlatform)
	}

	if token := gpuToken(t.Hardware.GPUVendor); token != "" && !strings.Contains(strings.ToLower(t.WebGL.Renderer), token) {
		out = append(out, ViolationGPU)
	}

	// memory < cores/4 without integer division
	if t.Hardware.DeviceMemory*4 < t.Hardware.CPUCores {
		out = append(out, ViolationMemoryCores)
	}

	if t.Screen.Height <= 0 {
		out = append(out, ViolationAspectRatio)
	} else if ratio := float64(t.Screen.Width) / float64(t.Screen.Height); ratio < 1 || ratio > 3 {
		out = append(out, ViolationAspectRatio)
	}

	return out
}

// platformFamily returns the navigator.platform prefix a user agent implies, or "" when it implies none
func platformFamily(userAgent string) string {
	if userAgent == "" {
		return ""
	}
	switch uasurfer.Parse(userAgent).OS.Platform {
	case uasurfer.PlatformWindows:
		return "Win"
	case uasurfer.PlatformMac:
		return "Mac"
	case uasurfer.PlatformLinux:
		return "Linux"
	case uasurfer.PlatformiPhone:
		return "iPhone"
	case uasurfer.PlatformiPad:
		return "iPad"
	}
	return ""
}

var gpuAliases = map[string]string{
	"ati":     "amd",
	"radeon":  "amd",
	"geforce": "nvidia",
}

// gpuToken is the lowercase vendor token a renderer string must contain
func gpuToken(vendor string) string {
	v := strings.ToLower(strings.TrimSpace(vendor))
	if alias, ok := gpuAliases[v]; ok {
		return alias
	}
	return v
}
