// Package extension locates built-in capability bundles and assembles the ordered extension list for a launch.
package extension

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"identity-orchestrator/internal/config"
)

const manifestFile = "manifest.json"

// listSeparator joins paths in the browser's extension load flag, so no path may contain it
const listSeparator = ","

// Resolver finds built-in extensions across the layouts the host application may be installed in
type Resolver struct {
	roots  []string
	logger zerolog.Logger
}

// NewResolver creates a resolver. Configured search roots are tried first, then the install layouts
// relative to the running executable and the working directory.
func NewResolver(cfg *config.ExtensionsConfig, logger zerolog.Logger) *Resolver {
	var exeDir, cwd string
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		exeDir = filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		cwd = wd
	}
	return &Resolver{
		roots:  candidateRoots(cfg.SearchRoots, exeDir, cwd),
		logger: logger.With().Str("component", "extensions").Logger(),
	}
}

// candidateRoots lists the directories that may contain one sub-directory per built-in, in search order
func candidateRoots(configured []string, exeDir, cwd string) []string {
	var roots []string
	roots = append(roots, configured...)
	if exeDir != "" {
		// development tree, portable archive, packaged resources, macOS bundle, unpacked asar
		roots = append(roots,
			filepath.Join(exeDir, "..", "extensions"),
			filepath.Join(exeDir, "extensions"),
			filepath.Join(exeDir, "resources", "extensions"),
			filepath.Join(exeDir, "..", "Resources", "extensions"),
			filepath.Join(exeDir, "resources", "app.asar.unpacked", "extensions"),
		)
	}
	if cwd != "" {
		roots = append(roots, filepath.Join(cwd, "extensions"))
	}

	seen := make(map[string]bool, len(roots))
	out := roots[:0]
	for _, r := range roots {
		if r == "" {
			continue
		}
		clean := filepath.Clean(r)
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
	}
	return out
}

// Roots returns the search roots in order
func (r *Resolver) Roots() []string {
	return append([]string(nil), r.roots...)
}

// Resolve maps built-in names to absolute bundle directories, keeping the caller's order.
// A name found in no root is logged and skipped.
func (r *Resolver) Resolve(names []string) []string {
	var out []string
	for _, name := range names {
		if !validName(name) {
			r.logger.Warn().Str("name", name).Msg("Ignoring invalid built-in extension name")
			continue
		}
		path, ok := r.find(name)
		if !ok {
			r.logger.Warn().
				Str("name", name).
				Int("searched", len(r.roots)).
				Msg("Built-in extension not found, skipping")
			continue
		}
		r.logger.Debug().Str("name", name).Str("path", path).Msg("Resolved built-in extension")
		out = append(out, path)
	}
	return out
}

func (r *Resolver) find(name string) (string, bool) {
	for _, root := range r.roots {
		dir := filepath.Join(root, name)
		if !ValidManifest(dir) {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if strings.Contains(dir, listSeparator) {
			r.logger.Warn().Str("path", dir).Msg("Built-in extension path contains a comma, skipping")
			continue
		}
		return dir, true
	}
	return "", false
}

// FilterUser keeps the user-supplied extension directories that exist, in order.
// Missing paths and paths the load flag cannot carry are logged and dropped.
func (r *Resolver) FilterUser(paths []string) []string {
	var out []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			r.logger.Warn().Str("path", p).Msg("User extension not found, skipping")
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if strings.Contains(p, listSeparator) {
			r.logger.Warn().Str("path", p).Msg("User extension path contains a comma, skipping")
			continue
		}
		out = append(out, p)
	}
	return out
}

// ValidManifest reports whether dir holds a parseable extension manifest
func ValidManifest(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return false
	}
	var m struct {
		ManifestVersion int    `json:"manifest_version"`
		Name            string `json:"name"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	return m.ManifestVersion > 0 && m.Name != ""
}

// Assemble orders the extension list for the load flag: spoof bundle first, then built-ins,
// then user extensions. Duplicates keep their first position.
func Assemble(spoofBundle string, builtins, user []string) []string {
	out := make([]string, 0, 1+len(builtins)+len(user))
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	add(spoofBundle)
	for _, p := range builtins {
		add(p)
	}
	for _, p := range user {
		add(p)
	}
	return out
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
