package models

// SpoofParameters is the flat parameter set rendered into a spoof bundle.
// Every field is filled by identity projection; none is optional.
type SpoofParameters struct {
	UserAgent  string   `json:"userAgent"`
	AppVersion string   `json:"appVersion"`
	Platform   string   `json:"platform"`
	Vendor     string   `json:"vendor"`
	Language   string   `json:"language"`
	Languages  []string `json:"languages"`

	HardwareConcurrency int `json:"hardwareConcurrency"`
	DeviceMemory        int `json:"deviceMemory"`
	MaxTouchPoints      int `json:"maxTouchPoints"`

	ScreenWidth  int     `json:"screenWidth"`
	ScreenHeight int     `json:"screenHeight"`
	AvailWidth   int     `json:"availWidth"`
	AvailHeight  int     `json:"availHeight"`
	ColorDepth   int     `json:"colorDepth"`
	PixelRatio   float64 `json:"pixelRatio"`

	WebGLVendor          string `json:"webglVendor"`
	WebGLRenderer        string `json:"webglRenderer"`
	WebGLVersion         string `json:"webglVersion"`
	WebGLShadingLanguage string `json:"webglShadingLanguage"`

	Timezone string `json:"timezone"`

	CanvasSeed     int64 `json:"canvasSeed"`
	CanvasMaxDelta int   `json:"canvasMaxDelta"`

	AudioSeed       int64   `json:"audioSeed"`
	AudioNoiseLevel float64 `json:"audioNoiseLevel"`
	AudioSampleRate int     `json:"audioSampleRate"`
	AudioChannels   int     `json:"audioChannels"`

	ClientHints ClientHints `json:"clientHints"`
}

// BrandVersion is one entry of a user-agent client hints brand list
type BrandVersion struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

// ClientHints are the high-entropy values derived from the user agent
type ClientHints struct {
	Brands          []BrandVersion `json:"brands"`
	FullVersionList []BrandVersion `json:"fullVersionList"`
	FullVersion     string         `json:"fullVersion"`
	Platform        string         `json:"platform"`
	PlatformVersion string         `json:"platformVersion"`
	Architecture    string         `json:"architecture"`
	Bitness         string         `json:"bitness"`
	Mobile          bool           `json:"mobile"`
}
