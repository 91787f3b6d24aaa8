package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/avct/uasurfer"

	"identity-orchestrator/internal/models"
)

// taskbar height subtracted from the screen for availHeight
const taskbarHeight = 40

// audioSeedMix decorrelates the audio generator from the canvas generator
const audioSeedMix = 0x5bd1e995

var (
	chromeVersionRe = regexp.MustCompile(`(?:Chrome|CriOS)/(\d+)\.(\d+)\.(\d+)\.(\d+)`)
	edgeVersionRe   = regexp.MustCompile(`Edg(?:e|A|iOS)?/(\d+)((?:\.\d+)*)`)
	operaVersionRe  = regexp.MustCompile(`OPR/(\d+)((?:\.\d+)*)`)
)

// Project maps an identity onto the flat parameter set of a spoof bundle. Every output field
// comes from a trait or from a value derived from one.
func Project(id models.Identity) models.SpoofParameters {
	t := id.Traits

	languages := append([]string(nil), t.Locale.Languages...)
	if len(languages) == 0 {
		languages = languageList(t.Locale.Language)
	}

	return models.SpoofParameters{
		UserAgent:  t.Browser.UserAgent,
		AppVersion: strings.TrimPrefix(t.Browser.UserAgent, "Mozilla/"),
		Platform:   t.Browser.Platform,
		Vendor:     t.Browser.Vendor,
		Language:   t.Locale.Language,
		Languages:  languages,

		HardwareConcurrency: t.Hardware.CPUCores,
		DeviceMemory:        t.Hardware.DeviceMemory,
		MaxTouchPoints:      t.Hardware.TouchPoints,

		ScreenWidth:  t.Screen.Width,
		ScreenHeight: t.Screen.Height,
		AvailWidth:   t.Screen.Width,
		AvailHeight:  max(t.Screen.Height-taskbarHeight, 0),
		ColorDepth:   t.Screen.ColorDepth,
		PixelRatio:   t.Screen.PixelRatio,

		WebGLVendor:          t.WebGL.Vendor,
		WebGLRenderer:        t.WebGL.Renderer,
		WebGLVersion:         t.WebGL.Version,
		WebGLShadingLanguage: t.WebGL.ShadingLanguage,

		Timezone: t.Locale.Timezone,

		CanvasSeed:     t.Canvas.NoiseSeed,
		CanvasMaxDelta: t.Canvas.ColorVariation,

		AudioSeed:       AudioSeed(t.Canvas.NoiseSeed),
		AudioNoiseLevel: t.Audio.NoiseLevel,
		AudioSampleRate: t.Audio.SampleRate,
		AudioChannels:   t.Audio.ChannelCount,

		ClientHints: ClientHints(t.Browser.UserAgent),
	}
}

// AudioSeed derives the audio noise seed from the canvas noise seed
func AudioSeed(canvasSeed int64) int64 {
	seed := (canvasSeed ^ audioSeedMix) & maxSeed
	if seed == 0 {
		return 1
	}
	return seed
}

// ClientHints derives the user-agent client hints from a user-agent string alone, so
// navigator.userAgentData can never disagree with navigator.userAgent.
func ClientHints(userAgent string) models.ClientHints {
	ua := uasurfer.Parse(userAgent)

	hints := models.ClientHints{
		Brands:          []models.BrandVersion{},
		FullVersionList: []models.BrandVersion{},
		Platform:        hintPlatform(ua),
		PlatformVersion: hintPlatformVersion(ua),
		Architecture:    "x86",
		Bitness:         "64",
		Mobile:          ua.DeviceType == uasurfer.DevicePhone,
	}

	lower := strings.ToLower(userAgent)
	if strings.Contains(lower, "arm") || strings.Contains(lower, "aarch64") {
		hints.Architecture = "arm"
	}
	if strings.Contains(lower, "wow64") || strings.Contains(lower, "i686") {
		hints.Bitness = "32"
	}

	m := chromeVersionRe.FindStringSubmatch(userAgent)
	if m == nil {
		return hints
	}
	major := m[1]
	full := fmt.Sprintf("%s.%s.%s.%s", m[1], m[2], m[3], m[4])
	hints.FullVersion = full

	brand, brandMajor, brandFull := "Google Chrome", major, full
	if e := edgeVersionRe.FindStringSubmatch(userAgent); e != nil {
		brand, brandMajor, brandFull = "Microsoft Edge", e[1], e[1]+e[2]
	} else if o := operaVersionRe.FindStringSubmatch(userAgent); o != nil {
		brand, brandMajor, brandFull = "Opera", o[1], o[1]+o[2]
	}

	hints.Brands = []models.BrandVersion{
		{Brand: "Not_A Brand", Version: "8"},
		{Brand: "Chromium", Version: major},
		{Brand: brand, Version: brandMajor},
	}
	hints.FullVersionList = []models.BrandVersion{
		{Brand: "Not_A Brand", Version: "8.0.0.0"},
		{Brand: "Chromium", Version: full},
		{Brand: brand, Version: brandFull},
	}
	return hints
}

func hintPlatform(ua *uasurfer.UserAgent) string {
	switch ua.OS.Name {
	case uasurfer.OSAndroid:
		return "Android"
	case uasurfer.OSChromeOS:
		return "Chrome OS"
	case uasurfer.OSiOS:
		return "iOS"
	}
	switch ua.OS.Platform {
	case uasurfer.PlatformWindows:
		return "Windows"
	case uasurfer.PlatformMac:
		return "macOS"
	case uasurfer.PlatformLinux:
		return "Linux"
	}
	return "Unknown"
}

func hintPlatformVersion(ua *uasurfer.UserAgent) string {
	v := ua.OS.Version
	if v.Major == 0 && v.Minor == 0 && v.Patch == 0 {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
