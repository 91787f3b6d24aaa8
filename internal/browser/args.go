package browser

import (
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"identity-orchestrator/internal/models"
)

const (
	flagLoadExtension flags.Flag = "load-extension"
	flagUserAgent     flags.Flag = "user-agent"
	flagWindowSize    flags.Flag = "window-size"
	flagLang          flags.Flag = "lang"
)

// fixedFlags are passed to every launch to hide automation and silence telemetry
var fixedFlags = map[flags.Flag][]string{
	"disable-blink-features":                 {"AutomationControlled"},
	"disable-infobars":                       nil,
	"no-first-run":                           nil,
	"no-default-browser-check":               nil,
	"disable-dev-shm-usage":                  nil,
	"disable-background-networking":          nil,
	"disable-breakpad":                       nil,
	"disable-component-update":               nil,
	"disable-domain-reliability":             nil,
	"disable-sync":                           nil,
	"disable-client-side-phishing-detection": nil,
	"metrics-recording-only":                 nil,
	"no-pings":                               nil,
	"password-store":                         {"basic"},
	"disable-features":                       {"Translate", "OptimizationHints", "MediaRouter"},
	"webrtc-ip-handling-policy":              {"disable_non_proxied_udp"},
}

// LaunchSpec is everything the orchestrator needs to start one profile
type LaunchSpec struct {
	ProfileID    string
	ChromiumPath string
	UserDataDir  string
	Proxy        *models.ProxyConfig
	UserAgent    string
	Fingerprint  *models.Fingerprint
	// Extensions is the ordered load list, spoof bundle first
	Extensions []string
}

// BuildArgs renders the browser argument vector for spec.
// The launcher's own defaults (remote debugging, headless, automation switches) are dropped so
// the browser comes up as a plain user session.
func BuildArgs(spec LaunchSpec) []string {
	l := launcher.New()
	for name := range l.Flags {
		if !strings.HasPrefix(string(name), "rod-") {
			l.Delete(name)
		}
	}

	l.Set(flags.UserDataDir, spec.UserDataDir)
	for name, values := range fixedFlags {
		l.Set(name, values...)
	}

	if spec.Proxy != nil && spec.Proxy.Host != "" {
		l.Set(flags.ProxyServer, spec.Proxy.ServerURL())
	}
	if spec.UserAgent != "" {
		l.Set(flagUserAgent, spec.UserAgent)
	}
	if spec.Fingerprint.HasWindowSize() {
		l.Set(flagWindowSize,
			strconv.Itoa(spec.Fingerprint.ScreenWidth),
			strconv.Itoa(spec.Fingerprint.ScreenHeight))
	}
	if spec.Fingerprint != nil && spec.Fingerprint.Language != "" {
		l.Set(flagLang, spec.Fingerprint.Language)
	}
	if len(spec.Extensions) > 0 {
		l.Set(flagLoadExtension, spec.Extensions...)
	}

	return l.FormatArgs()
}
