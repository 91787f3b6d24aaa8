// Package config handles configuration loading and validation for the identity orchestrator.
// It supports YAML configuration files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the identity orchestrator
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Spoof      SpoofConfig      `yaml:"spoof"`
	Identity   IdentityConfig   `yaml:"identity"`
	Extensions ExtensionsConfig `yaml:"extensions"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`

	LogLevel string `yaml:"log_level"`
}

// BrowserConfig holds browser process settings
type BrowserConfig struct {
	ChromiumPath string `yaml:"chromium_path"`
	ProfilesDir  string `yaml:"profiles_dir"` // parent of per-profile user-data dirs
}

// SpoofConfig holds spoof bundle settings
type SpoofConfig struct {
	BundlesDir        string  `yaml:"bundles_dir"`
	BaseEvasions      bool    `yaml:"base_evasions"`
	CanvasNoiseRatio  float64 `yaml:"canvas_noise_ratio"`
	AudioSampleStride int     `yaml:"audio_sample_stride"`
}

// IdentityConfig holds generation, scoring and evolution settings
type IdentityConfig struct {
	EvolutionInterval time.Duration `yaml:"evolution_interval"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	Deductions        Deductions    `yaml:"deductions"`
}

// Deductions are the consistency score penalties per violated rule
type Deductions struct {
	PlatformMismatch int `yaml:"platform_mismatch"`
	GPUMismatch      int `yaml:"gpu_mismatch"`
	MemoryCores      int `yaml:"memory_cores"`
	AspectRatio      int `yaml:"aspect_ratio"`
}

// ExtensionsConfig lists built-in capability bundles and extra search roots
type ExtensionsConfig struct {
	Builtin     []string `yaml:"builtin"`
	SearchRoots []string `yaml:"search_roots"`
}

// StorageConfig holds storage settings
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// APIConfig holds control API settings
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			ProfilesDir: "./data/profiles",
		},
		Spoof: SpoofConfig{
			BundlesDir:        "./data/bundles",
			BaseEvasions:      true,
			CanvasNoiseRatio:  0.1,
			AudioSampleStride: 100,
		},
		Identity: IdentityConfig{
			EvolutionInterval: 72 * time.Hour,
			CheckInterval:     time.Hour,
			Deductions: Deductions{
				PlatformMismatch: 30,
				GPUMismatch:      20,
				MemoryCores:      15,
				AspectRatio:      10,
			},
		},
		Extensions: ExtensionsConfig{
			Builtin: []string{"autofill", "session-capture", "captcha-assist"},
		},
		Storage: StorageConfig{
			DatabasePath: "./data/identities.db",
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:7420",
		},
		LogLevel: "info",
	}
}

// Load reads configuration from YAML file and environment variables
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use defaults
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.loadEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvOverrides applies environment variable overrides to config
func (c *Config) loadEnvOverrides() error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	if v := os.Getenv("CHROMIUM_PATH"); v != "" {
		c.Browser.ChromiumPath = v
	}

	if v := os.Getenv("PROFILES_DIR"); v != "" {
		c.Browser.ProfilesDir = v
	}

	if v := os.Getenv("BUNDLES_DIR"); v != "" {
		c.Spoof.BundlesDir = v
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}

	if v := os.Getenv("API_ADDR"); v != "" {
		c.API.ListenAddr = v
	}

	if v := os.Getenv("EVOLUTION_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("failed to parse EVOLUTION_INTERVAL: %w", err)
		}
		c.Identity.EvolutionInterval = d
	}

	return nil
}
