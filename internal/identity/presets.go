package identity

import (
	"fmt"

	"github.com/avct/uasurfer"
)

// Every preset below is internally consistent: a GPU option always pairs a vendor with renderer
// strings that name it, and a locale bundle always pairs a timezone with its languages and country.
// Drawing only whole bundles keeps a fresh identity at full consistency.

const uaTemplate = "Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"

const (
	webglVersion         = "WebGL 1.0 (OpenGL ES 2.0 Chromium)"
	webglShadingLanguage = "WebGL GLSL ES 1.0 (OpenGL ES GLSL ES 1.0 Chromium)"
	browserVendor        = "Google Inc."
)

// Reduced user-agent strings carry only the major version
var chromeVersions = []string{
	"120.0.0.0",
	"121.0.0.0",
	"122.0.0.0",
	"123.0.0.0",
	"124.0.0.0",
	"125.0.0.0",
}

type gpuOption struct {
	vendor        string // hardware.gpuVendor
	model         string // hardware.gpuRenderer
	webglVendor   string
	webglRenderer string
}

type screenOption struct {
	width, height int
	colorDepth    int
	pixelRatio    float64
}

type hardwareOption struct {
	cores  int
	memory int // GiB, as reported by navigator.deviceMemory
}

type platformPreset struct {
	platform  uasurfer.Platform
	uaToken   string // the parenthesised OS section of the user agent
	navigator string // navigator.platform
	gpus      []gpuOption
	screens   []screenOption
	hardware  []hardwareOption
}

var platformPresets = []platformPreset{
	{
		platform:  uasurfer.PlatformWindows,
		uaToken:   "Windows NT 10.0; Win64; x64",
		navigator: "Win32",
		gpus: []gpuOption{
			{"NVIDIA", "NVIDIA GeForce RTX 3060", "Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"NVIDIA", "NVIDIA GeForce GTX 1660 SUPER", "Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 SUPER Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"AMD", "AMD Radeon RX 6700 XT", "Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6700 XT Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Intel", "Intel(R) UHD Graphics 630", "Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
			{"Intel", "Intel(R) Iris(R) Xe Graphics", "Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		},
		screens: []screenOption{
			{1920, 1080, 24, 1},
			{1366, 768, 24, 1},
			{1536, 864, 24, 1.25},
			{2560, 1440, 24, 1},
			{1440, 900, 24, 1},
			{1680, 1050, 24, 1},
		},
		hardware: []hardwareOption{{4, 8}, {6, 8}, {8, 8}, {12, 8}, {16, 8}, {4, 4}},
	},
	{
		platform:  uasurfer.PlatformMac,
		uaToken:   "Macintosh; Intel Mac OS X 10_15_7",
		navigator: "MacIntel",
		gpus: []gpuOption{
			{"Apple", "Apple M1", "Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M1, Unspecified Version)"},
			{"Apple", "Apple M2", "Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M2, Unspecified Version)"},
			{"Intel", "Intel(R) Iris(TM) Plus Graphics 655", "Google Inc. (Intel Inc.)", "ANGLE (Intel Inc., Intel(R) Iris(TM) Plus Graphics 655, OpenGL 4.1)"},
		},
		screens: []screenOption{
			{1440, 900, 30, 2},
			{1512, 982, 30, 2},
			{1728, 1117, 30, 2},
			{1680, 1050, 30, 2},
		},
		hardware: []hardwareOption{{8, 8}, {10, 8}, {12, 8}},
	},
	{
		platform:  uasurfer.PlatformLinux,
		uaToken:   "X11; Linux x86_64",
		navigator: "Linux x86_64",
		gpus: []gpuOption{
			{"NVIDIA", "NVIDIA GeForce GTX 1660/PCIe/SSE2", "Google Inc. (NVIDIA Corporation)", "ANGLE (NVIDIA Corporation, NVIDIA GeForce GTX 1660/PCIe/SSE2, OpenGL 4.5.0)"},
			{"Intel", "Mesa Intel(R) UHD Graphics 620 (KBL GT2)", "Google Inc. (Intel)", "ANGLE (Intel, Mesa Intel(R) UHD Graphics 620 (KBL GT2), OpenGL 4.6)"},
			{"AMD", "AMD Radeon RX 580 Series", "Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Series (polaris10, LLVM 15.0.7, DRM 3.49), OpenGL 4.6)"},
		},
		screens: []screenOption{
			{1920, 1080, 24, 1},
			{2560, 1440, 24, 1},
			{1366, 768, 24, 1},
		},
		hardware: []hardwareOption{{4, 8}, {8, 8}, {16, 8}},
	},
}

type localeBundle struct {
	timezone  string
	language  string
	languages []string
	country   string
}

var localeBundles = []localeBundle{
	{"America/New_York", "en-US", []string{"en-US", "en"}, "US"},
	{"America/Chicago", "en-US", []string{"en-US", "en"}, "US"},
	{"America/Denver", "en-US", []string{"en-US", "en"}, "US"},
	{"America/Los_Angeles", "en-US", []string{"en-US", "en"}, "US"},
	{"America/Toronto", "en-CA", []string{"en-CA", "en", "fr-CA"}, "CA"},
	{"America/Sao_Paulo", "pt-BR", []string{"pt-BR", "pt", "en-US", "en"}, "BR"},
	{"Europe/London", "en-GB", []string{"en-GB", "en"}, "GB"},
	{"Europe/Berlin", "de-DE", []string{"de-DE", "de", "en-US", "en"}, "DE"},
	{"Europe/Paris", "fr-FR", []string{"fr-FR", "fr", "en-US", "en"}, "FR"},
	{"Europe/Madrid", "es-ES", []string{"es-ES", "es", "en"}, "ES"},
	{"Europe/Amsterdam", "nl-NL", []string{"nl-NL", "nl", "en"}, "NL"},
	{"Asia/Tokyo", "ja-JP", []string{"ja-JP", "ja", "en-US", "en"}, "JP"},
	{"Australia/Sydney", "en-AU", []string{"en-AU", "en"}, "AU"},
}

var sampleRates = []int{44100, 48000}

// userAgentFor renders a Chrome user agent for a platform preset
func userAgentFor(p platformPreset, chromeVersion string) string {
	return fmt.Sprintf(uaTemplate, p.uaToken, chromeVersion)
}

// presetsFor narrows the platform pool to the family implied by a user agent
func presetsFor(userAgent string) []platformPreset {
	if userAgent == "" {
		return platformPresets
	}
	family := uasurfer.Parse(userAgent).OS.Platform
	var out []platformPreset
	for _, p := range platformPresets {
		if p.platform == family {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return platformPresets
	}
	return out
}

// localesFor narrows the locale pool to bundles for a timezone
func localesFor(timezone string) []localeBundle {
	if timezone == "" {
		return localeBundles
	}
	var out []localeBundle
	for _, b := range localeBundles {
		if b.timezone == timezone {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return localeBundles
	}
	return out
}

// languageList expands a primary tag into a navigator.languages list
func languageList(language string) []string {
	for i := 0; i < len(language); i++ {
		if language[i] == '-' {
			return []string{language, language[:i]}
		}
	}
	return []string{language}
}
