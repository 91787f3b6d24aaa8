// Package config - validation logic for configuration values
package config

import (
	"errors"
	"fmt"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s - %s", e.Field, e.Message)
}

// Validate checks all configuration values for validity
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.ProfilesDir == "" {
		errs = append(errs, ValidationError{
			Field:   "browser.profiles_dir",
			Message: "must not be empty",
		})
	}

	if c.Spoof.BundlesDir == "" {
		errs = append(errs, ValidationError{
			Field:   "spoof.bundles_dir",
			Message: "must not be empty",
		})
	}

	if c.Spoof.CanvasNoiseRatio <= 0 || c.Spoof.CanvasNoiseRatio > 1 {
		errs = append(errs, ValidationError{
			Field:   "spoof.canvas_noise_ratio",
			Message: "must be in (0, 1]",
		})
	}

	if c.Spoof.AudioSampleStride <= 0 {
		errs = append(errs, ValidationError{
			Field:   "spoof.audio_sample_stride",
			Message: "must be greater than 0",
		})
	}

	if c.Identity.EvolutionInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "identity.evolution_interval",
			Message: "must be greater than 0",
		})
	}

	if c.Identity.CheckInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "identity.check_interval",
			Message: "must be greater than 0",
		})
	}

	d := c.Identity.Deductions
	for field, v := range map[string]int{
		"identity.deductions.platform_mismatch": d.PlatformMismatch,
		"identity.deductions.gpu_mismatch":      d.GPUMismatch,
		"identity.deductions.memory_cores":      d.MemoryCores,
		"identity.deductions.aspect_ratio":      d.AspectRatio,
	} {
		if v < 0 || v > 100 {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must be between 0 and 100",
			})
		}
	}

	if c.Storage.DatabasePath == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.database_path",
			Message: "must not be empty",
		})
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: "must be one of debug, info, warn, error",
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateForServe checks if config is valid for running the control API
func (c *Config) ValidateForServe() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.API.ListenAddr == "" {
		return ValidationError{
			Field:   "api.listen_addr",
			Message: "is required to serve the control API",
		}
	}

	return nil
}
