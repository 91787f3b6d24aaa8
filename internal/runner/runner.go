// Package runner implements the inbound launch/stop contract on top of the identity engine,
// the spoof synthesizer, the extension resolver and the browser orchestrator.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"identity-orchestrator/internal/browser"
	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/extension"
	"identity-orchestrator/internal/identity"
	"identity-orchestrator/internal/models"
	"identity-orchestrator/internal/spoof"
	"identity-orchestrator/internal/storage"
)

var (
	// ErrInvalidProfileID is returned for ids that cannot name a directory
	ErrInvalidProfileID = errors.New("invalid profile id")
	// ErrProfileRunning is returned when an operation needs the profile stopped
	ErrProfileRunning = errors.New("profile is running")
)

var profileIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// IdentityRepository persists one identity per profile
type IdentityRepository interface {
	Get(profileID string) (models.Identity, error)
	Save(identity models.Identity) error
	Delete(profileID string) error
	List() ([]models.Identity, error)
}

// LaunchHistory records browser sessions
type LaunchHistory interface {
	RecordLaunch(profileID string, pid, generation int, startedAt time.Time) (*models.LaunchRecord, error)
	RecordClose(event models.ProfileClosedEvent) error
	Recent(profileID string, limit int) ([]*models.LaunchRecord, error)
}

// Runner serializes all identity work per profile and drives launches
type Runner struct {
	cfg          *config.Config
	engine       *identity.Engine
	identities   IdentityRepository
	launches     LaunchHistory
	synthesizer  *spoof.Synthesizer
	resolver     *extension.Resolver
	orchestrator *browser.Orchestrator
	logger       zerolog.Logger
	now          func() time.Time

	locksMu sync.Mutex
	locks   map[string]*profileLock

	listenersMu sync.RWMutex
	listeners   []func(models.ProfileClosedEvent)
}

// New creates a runner and subscribes it to the orchestrator's exit events
func New(
	cfg *config.Config,
	engine *identity.Engine,
	identities IdentityRepository,
	launches LaunchHistory,
	synthesizer *spoof.Synthesizer,
	resolver *extension.Resolver,
	orchestrator *browser.Orchestrator,
	logger zerolog.Logger,
) *Runner {
	r := &Runner{
		cfg:          cfg,
		engine:       engine,
		identities:   identities,
		launches:     launches,
		synthesizer:  synthesizer,
		resolver:     resolver,
		orchestrator: orchestrator,
		logger:       logger.With().Str("component", "runner").Logger(),
		now:          time.Now,
		locks:        make(map[string]*profileLock),
	}
	orchestrator.OnProfileClosed(r.handleClosed)
	return r
}

// ValidateProfileID checks that id is usable as a directory name
func ValidateProfileID(id string) error {
	if id == "." || id == ".." || !profileIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidProfileID, id)
	}
	return nil
}

// profileLock serializes work on one profile. The entry lives only while someone holds or waits for it.
type profileLock struct {
	mu   sync.Mutex
	refs int
}

func (r *Runner) lock(profileID string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[profileID]
	if !ok {
		l = &profileLock{}
		r.locks[profileID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, profileID)
		}
		r.locksMu.Unlock()
	}
}

// LaunchProfile prepares the profile's identity and spoof bundle, then starts its browser.
// Failures are carried in the result.
func (r *Runner) LaunchProfile(req models.LaunchRequest) models.LaunchResult {
	if err := ValidateProfileID(req.ProfileID); err != nil {
		return models.LaunchFailed("%v", err)
	}
	logger := r.logger.With().Str("profileId", req.ProfileID).Logger()

	unlock := r.lock(req.ProfileID)
	defer unlock()

	// a second launch must not rewrite the running profile's bundle
	if r.orchestrator.Registry().IsRunning(req.ProfileID) {
		return models.LaunchFailed("profile %s is already running", req.ProfileID)
	}

	chromiumPath := req.ChromiumPath
	if chromiumPath == "" {
		chromiumPath = r.cfg.Browser.ChromiumPath
	}
	if err := browser.ValidateExecutable(chromiumPath); err != nil {
		return models.LaunchFailed("%v", err)
	}

	id, err := r.prepareIdentity(req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to prepare identity")
		return models.LaunchFailed("failed to prepare identity: %v", err)
	}

	bundleDir, err := r.synthesizer.Write(req.ProfileID, identity.Project(id))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to write spoof bundle")
		return models.LaunchFailed("failed to write spoof bundle: %v", err)
	}

	extensions := extension.Assemble(
		bundleDir,
		r.resolver.Resolve(r.cfg.Extensions.Builtin),
		r.resolver.FilterUser(req.Extensions),
	)

	userDataDir, err := filepath.Abs(filepath.Join(r.cfg.Browser.ProfilesDir, req.ProfileID, "user-data"))
	if err != nil {
		return models.LaunchFailed("failed to resolve user data directory: %v", err)
	}
	if err := os.MkdirAll(userDataDir, 0700); err != nil {
		return models.LaunchFailed("failed to create user data directory: %v", err)
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = id.Traits.Browser.UserAgent
	}

	res := r.orchestrator.Launch(browser.LaunchSpec{
		ProfileID:    req.ProfileID,
		ChromiumPath: chromiumPath,
		UserDataDir:  userDataDir,
		Proxy:        req.Proxy,
		UserAgent:    userAgent,
		Fingerprint:  launchFingerprint(req.Fingerprint, id),
		Extensions:   extensions,
	})
	if !res.Success {
		return res
	}

	if r.launches != nil {
		if _, err := r.launches.RecordLaunch(req.ProfileID, res.PID, id.Generation, r.now()); err != nil {
			logger.Warn().Err(err).Msg("Failed to record launch")
		}
	}
	return res
}

// prepareIdentity loads the profile's identity, creating it from the request on first use.
// Request values that disagree with a stored identity are applied as tagged mutations.
// Callers hold the profile lock.
func (r *Runner) prepareIdentity(req models.LaunchRequest) (models.Identity, error) {
	id, err := r.identities.Get(req.ProfileID)
	if errors.Is(err, storage.ErrNotFound) {
		return r.create(req.ProfileID, launchOverrides(req))
	}
	if err != nil {
		return models.Identity{}, err
	}

	changed := false
	if req.UserAgent != "" && req.UserAgent != id.Traits.Browser.UserAgent {
		if id, err = r.engine.Mutate(id, models.ReasonBrowserUpdate, map[string]any{"browser.userAgent": req.UserAgent}); err != nil {
			return models.Identity{}, err
		}
		changed = true
	}
	if fp := req.Fingerprint; fp != nil && fp.Timezone != "" && fp.Timezone != id.Traits.Locale.Timezone {
		if id, err = r.engine.Mutate(id, models.ReasonLocationChange, map[string]any{"locale.timezone": fp.Timezone}); err != nil {
			return models.Identity{}, err
		}
		changed = true
	}
	if changed {
		if err := r.identities.Save(id); err != nil {
			return models.Identity{}, fmt.Errorf("failed to save identity: %w", err)
		}
	}
	return id, nil
}

func (r *Runner) create(profileID string, overrides map[string]any) (models.Identity, error) {
	id, err := r.engine.Generate(profileID, overrides)
	if err != nil {
		return models.Identity{}, err
	}
	if err := r.identities.Save(id); err != nil {
		return models.Identity{}, fmt.Errorf("failed to save identity: %w", err)
	}
	return id, nil
}

// launchOverrides turns the optional request hints into generation overrides
func launchOverrides(req models.LaunchRequest) map[string]any {
	overrides := map[string]any{}
	if req.UserAgent != "" {
		overrides["browser.userAgent"] = req.UserAgent
	}
	if fp := req.Fingerprint; fp != nil {
		if fp.Timezone != "" {
			overrides["locale.timezone"] = fp.Timezone
		}
		if fp.Language != "" {
			overrides["locale.language"] = fp.Language
		}
		if fp.HasWindowSize() {
			overrides["screen.width"] = fp.ScreenWidth
			overrides["screen.height"] = fp.ScreenHeight
		}
	}
	return overrides
}

// launchFingerprint keeps the request's window hints and defaults the language flag to the identity's,
// so the Accept-Language header agrees with navigator.languages
func launchFingerprint(fp *models.Fingerprint, id models.Identity) *models.Fingerprint {
	out := &models.Fingerprint{Language: id.Traits.Locale.Language}
	if fp != nil {
		out.ScreenWidth = fp.ScreenWidth
		out.ScreenHeight = fp.ScreenHeight
		out.Timezone = fp.Timezone
		if fp.Language != "" {
			out.Language = fp.Language
		}
	}
	return out
}

// StopProfile requests the profile's browser to exit
func (r *Runner) StopProfile(profileID string) models.StopResult {
	if err := ValidateProfileID(profileID); err != nil {
		return models.StopFailed("%v", err)
	}
	return r.orchestrator.Stop(profileID)
}

// Running lists the registered browsers
func (r *Runner) Running() []browser.Entry {
	return r.orchestrator.Registry().List()
}

// Identity returns the stored identity of a profile
func (r *Runner) Identity(profileID string) (models.Identity, error) {
	if err := ValidateProfileID(profileID); err != nil {
		return models.Identity{}, err
	}
	return r.identities.Get(profileID)
}

// MutateIdentity applies a tagged mutation and re-renders the profile's bundle if one exists
func (r *Runner) MutateIdentity(profileID string, reason models.MutationReason, changes map[string]any) (models.Identity, error) {
	if err := ValidateProfileID(profileID); err != nil {
		return models.Identity{}, err
	}
	unlock := r.lock(profileID)
	defer unlock()

	id, err := r.identities.Get(profileID)
	if err != nil {
		return models.Identity{}, err
	}
	return r.mutate(id, reason, changes)
}

// mutate applies, persists and re-renders; callers hold the profile lock
func (r *Runner) mutate(id models.Identity, reason models.MutationReason, changes map[string]any) (models.Identity, error) {
	next, err := r.engine.Mutate(id, reason, changes)
	if err != nil {
		return models.Identity{}, err
	}
	if err := r.identities.Save(next); err != nil {
		return models.Identity{}, fmt.Errorf("failed to save identity: %w", err)
	}

	if r.synthesizer.Exists(next.ProfileID) {
		if _, err := r.synthesizer.Write(next.ProfileID, identity.Project(next)); err != nil {
			return next, fmt.Errorf("failed to regenerate spoof bundle: %w", err)
		}
	}
	return next, nil
}

// DeleteIdentity removes a stopped profile's identity and its spoof bundle
func (r *Runner) DeleteIdentity(profileID string) error {
	if err := ValidateProfileID(profileID); err != nil {
		return err
	}
	unlock := r.lock(profileID)
	defer unlock()

	if r.orchestrator.Registry().IsRunning(profileID) {
		return fmt.Errorf("cannot delete identity of %s: %w", profileID, ErrProfileRunning)
	}
	if err := r.identities.Delete(profileID); err != nil {
		return err
	}
	if err := r.synthesizer.Remove(profileID); err != nil {
		return fmt.Errorf("failed to remove spoof bundle: %w", err)
	}

	r.logger.Info().Str("profileId", profileID).Msg("Identity deleted")
	return nil
}

// RegenerateBundle renders the profile's bundle from its current identity, creating the identity on first use
func (r *Runner) RegenerateBundle(profileID string) (string, error) {
	if err := ValidateProfileID(profileID); err != nil {
		return "", err
	}
	unlock := r.lock(profileID)
	defer unlock()

	id, err := r.identities.Get(profileID)
	if errors.Is(err, storage.ErrNotFound) {
		id, err = r.create(profileID, nil)
	}
	if err != nil {
		return "", err
	}
	return r.synthesizer.Write(profileID, identity.Project(id))
}

// History returns the latest launches of a profile
func (r *Runner) History(profileID string, limit int) ([]*models.LaunchRecord, error) {
	if err := ValidateProfileID(profileID); err != nil {
		return nil, err
	}
	if r.launches == nil {
		return nil, nil
	}
	return r.launches.Recent(profileID, limit)
}

// Identities lists every stored identity for the evolver
func (r *Runner) Identities(ctx context.Context) ([]models.Identity, error) {
	return r.identities.List()
}

// Evolve applies natural evolution if the identity is still due after taking the profile lock
func (r *Runner) Evolve(ctx context.Context, profileID string, dueBefore time.Time) error {
	unlock := r.lock(profileID)
	defer unlock()

	id, err := r.identities.Get(profileID)
	if err != nil {
		return err
	}
	// an explicit mutation may have landed since the evolver listed identities
	if id.LastMutatedAt.After(dueBefore) {
		return nil
	}
	_, err = r.mutate(id, models.ReasonNaturalEvolution, nil)
	return err
}

// OnProfileClosed registers fn for browser exit notifications
func (r *Runner) OnProfileClosed(fn func(models.ProfileClosedEvent)) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Runner) handleClosed(event models.ProfileClosedEvent) {
	if r.launches != nil {
		// waits for a launch still recording its session
		unlock := r.lock(event.ProfileID)
		if err := r.launches.RecordClose(event); err != nil {
			r.logger.Warn().Err(err).Str("profileId", event.ProfileID).Msg("Failed to record close")
		}
		unlock()
	}

	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// Shutdown stops every running browser and waits for the exits
func (r *Runner) Shutdown(ctx context.Context) error {
	return r.orchestrator.StopAll(ctx)
}
