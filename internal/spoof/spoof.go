// Package spoof renders an identity's spoof parameters into an unpacked browser extension:
// a manifest declaring one main-world content script and the patch program it runs.
package spoof

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"

	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/models"
)

const (
	ManifestFile = "manifest.json"
	ProgramFile  = "patch.js"

	paramsPlaceholder = "__SPOOF_PARAMS__"
)

//go:embed patch.js
var patchTemplate string

// Bundle is a rendered spoof bundle
type Bundle struct {
	Manifest []byte
	Program  []byte
}

// payload is the constant embedded into the patch program
type payload struct {
	models.SpoofParameters
	Natives           map[string]string `json:"natives"`
	AutomationMarkers []string          `json:"automationMarkers"`
	TimezoneOffsets   map[string]int    `json:"timezoneOffsets"`
	CanvasNoiseRatio  float64           `json:"canvasNoiseRatio"`
	AudioSampleStride int               `json:"audioSampleStride"`
}

type manifest struct {
	ManifestVersion int             `json:"manifest_version"`
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Description     string          `json:"description"`
	ContentScripts  []contentScript `json:"content_scripts"`
}

type contentScript struct {
	Matches               []string `json:"matches"`
	JS                    []string `json:"js"`
	RunAt                 string   `json:"run_at"`
	AllFrames             bool     `json:"all_frames"`
	MatchAboutBlank       bool     `json:"match_about_blank"`
	MatchOriginAsFallback bool     `json:"match_origin_as_fallback"`
	World                 string   `json:"world"`
}

// Synthesizer writes spoof bundles into one private directory per profile
type Synthesizer struct {
	root              string
	baseEvasions      bool
	canvasNoiseRatio  float64
	audioSampleStride int
	logger            zerolog.Logger
}

// NewSynthesizer creates a synthesizer rooted at cfg.BundlesDir
func NewSynthesizer(cfg *config.SpoofConfig, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		root:              cfg.BundlesDir,
		baseEvasions:      cfg.BaseEvasions,
		canvasNoiseRatio:  cfg.CanvasNoiseRatio,
		audioSampleStride: max(cfg.AudioSampleStride, 1),
		logger:            logger.With().Str("component", "spoof").Logger(),
	}
}

// Render builds the manifest and patch program for a parameter set without touching the disk
func (s *Synthesizer) Render(params models.SpoofParameters) (Bundle, error) {
	p := payload{
		SpoofParameters:   params,
		Natives:           NativeBanners(),
		AutomationMarkers: AutomationMarkers(),
		TimezoneOffsets:   offsetTable(params.Timezone),
		CanvasNoiseRatio:  s.canvasNoiseRatio,
		AudioSampleStride: s.audioSampleStride,
	}
	if p.Languages == nil {
		p.Languages = []string{}
	}
	if p.ClientHints.Brands == nil {
		p.ClientHints.Brands = []models.BrandVersion{}
	}
	if p.ClientHints.FullVersionList == nil {
		p.ClientHints.FullVersionList = []models.BrandVersion{}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to encode spoof parameters: %w", err)
	}

	var program strings.Builder
	if s.baseEvasions {
		program.WriteString("try {\n")
		program.WriteString(stealth.JS)
		program.WriteString("\n} catch (e) {}\n")
	}
	program.WriteString(strings.Replace(patchTemplate, paramsPlaceholder, string(data), 1))

	m, err := json.MarshalIndent(manifest{
		ManifestVersion: 3,
		Name:            "Environment",
		Version:         "1.0.0",
		Description:     "Runtime environment profile",
		ContentScripts: []contentScript{{
			Matches:               []string{"<all_urls>"},
			JS:                    []string{ProgramFile},
			RunAt:                 "document_start",
			AllFrames:             true,
			MatchAboutBlank:       true,
			MatchOriginAsFallback: true,
			World:                 "MAIN",
		}},
	}, "", "  ")
	if err != nil {
		return Bundle{}, fmt.Errorf("failed to encode manifest: %w", err)
	}

	return Bundle{Manifest: m, Program: []byte(program.String())}, nil
}

// Dir returns the bundle directory of a profile
func (s *Synthesizer) Dir(profileID string) string {
	return filepath.Join(s.root, profileID)
}

// Write renders params into the profile's bundle directory and returns its absolute path
func (s *Synthesizer) Write(profileID string, params models.SpoofParameters) (string, error) {
	bundle, err := s.Render(params)
	if err != nil {
		return "", err
	}

	dir, err := filepath.Abs(s.Dir(profileID))
	if err != nil {
		return "", fmt.Errorf("failed to resolve bundle directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create bundle directory: %w", err)
	}

	// program first: the manifest's presence marks a complete bundle
	if err := writeFileAtomic(filepath.Join(dir, ProgramFile), bundle.Program); err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(dir, ManifestFile), bundle.Manifest); err != nil {
		return "", err
	}

	s.logger.Debug().
		Str("profileId", profileID).
		Str("path", dir).
		Int("programBytes", len(bundle.Program)).
		Msg("Spoof bundle written")

	return dir, nil
}

// Exists reports whether a complete bundle is on disk for the profile
func (s *Synthesizer) Exists(profileID string) bool {
	_, err := os.Stat(filepath.Join(s.Dir(profileID), ManifestFile))
	return err == nil
}

// Remove deletes the profile's bundle; a missing bundle is not an error
func (s *Synthesizer) Remove(profileID string) error {
	if err := os.RemoveAll(s.Dir(profileID)); err != nil {
		return fmt.Errorf("failed to remove spoof bundle: %w", err)
	}
	s.logger.Debug().Str("profileId", profileID).Msg("Spoof bundle removed")
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
