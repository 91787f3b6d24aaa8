package models

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProxyConfig is an upstream proxy for one profile
type ProxyConfig struct {
	Scheme   string `json:"scheme" yaml:"scheme"` // http, https, socks4, socks5
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// ServerURL formats the proxy as scheme://host:port
func (p ProxyConfig) ServerURL() string {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasAuth reports whether credentials are attached
func (p ProxyConfig) HasAuth() bool {
	return p.Username != "" || p.Password != ""
}

// ParseProxy parses scheme://[user:pass@]host:port
func ParseProxy(raw string) (*ProxyConfig, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid proxy port %q", u.Port())
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy host is required")
	}
	p := &ProxyConfig{Scheme: u.Scheme, Host: u.Hostname(), Port: port}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// Fingerprint carries the optional window and language hints of a launch request
type Fingerprint struct {
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
	Language     string `json:"language,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// HasWindowSize reports whether both window dimensions are set
func (f *Fingerprint) HasWindowSize() bool {
	return f != nil && f.ScreenWidth > 0 && f.ScreenHeight > 0
}

// LaunchRequest is the inbound launchProfile contract
type LaunchRequest struct {
	ProfileID    string       `json:"profileId"`
	ChromiumPath string       `json:"chromiumPath"`
	Proxy        *ProxyConfig `json:"proxy,omitempty"`
	Extensions   []string     `json:"extensions,omitempty"`
	UserAgent    string       `json:"userAgent,omitempty"`
	Fingerprint  *Fingerprint `json:"fingerprint,omitempty"`
}

// LaunchResult is either {Success, PID} or {!Success, Error}
type LaunchResult struct {
	Success bool   `json:"success"`
	PID     int    `json:"pid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StopResult is either {Success} or {!Success, Error}
type StopResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// LaunchFailed builds a failed launch result
func LaunchFailed(format string, args ...any) LaunchResult {
	return LaunchResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// StopFailed builds a failed stop result
func StopFailed(format string, args ...any) StopResult {
	return StopResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ProfileClosedEvent is emitted once per observed browser exit
type ProfileClosedEvent struct {
	ProfileID string    `json:"profileId"`
	PID       int       `json:"pid"`
	ExitError string    `json:"exitError,omitempty"`
	Requested bool      `json:"requested"` // exit followed a stop request
	At        time.Time `json:"at"`
}

// LaunchRecord is one browser session in the launch history
type LaunchRecord struct {
	ID         int64      `json:"id"`
	ProfileID  string     `json:"profileId"`
	PID        int        `json:"pid"`
	Generation int        `json:"generation"` // identity generation the bundle was rendered from
	StartedAt  time.Time  `json:"startedAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
	ExitError  string     `json:"exitError,omitempty"`
	Requested  bool       `json:"requested"`
}
