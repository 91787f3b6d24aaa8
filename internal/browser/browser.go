// Package browser launches and supervises one browser process per profile.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"identity-orchestrator/internal/models"
)

// Orchestrator owns the launch, stop and exit paths of browser processes
type Orchestrator struct {
	registry *Registry
	spawner  Spawner
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	listeners []func(models.ProfileClosedEvent)
}

// NewOrchestrator creates an orchestrator around an explicit registry
func NewOrchestrator(registry *Registry, spawner Spawner, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		spawner:  spawner,
		logger:   logger.With().Str("component", "browser").Logger(),
		now:      time.Now,
	}
}

// Registry returns the running-instance registry
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// OnProfileClosed registers fn to be called once per observed process exit
func (o *Orchestrator) OnProfileClosed(fn func(models.ProfileClosedEvent)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Launch starts the browser for spec. It never returns an error: failures are carried in the result.
func (o *Orchestrator) Launch(spec LaunchSpec) models.LaunchResult {
	logger := o.logger.With().Str("profileId", spec.ProfileID).Logger()

	if err := ValidateExecutable(spec.ChromiumPath); err != nil {
		logger.Error().Err(err).Msg("Invalid browser executable")
		return models.LaunchFailed("%v", err)
	}

	// the slot is claimed before spawning so a second launch for the same profile fails fast
	if err := o.registry.Reserve(spec.ProfileID); err != nil {
		logger.Warn().Msg("Launch rejected, profile already running")
		return models.LaunchFailed("profile %s is already running", spec.ProfileID)
	}

	if spec.Proxy != nil && spec.Proxy.HasAuth() {
		logger.Warn().Msg("Proxy credentials are not passed on the command line")
	}

	args := BuildArgs(spec)
	logger.Debug().Strs("args", args).Msg("Spawning browser")

	proc, err := o.spawn(spec.ChromiumPath, args)
	if err != nil {
		o.registry.Release(spec.ProfileID, nil)
		logger.Error().Err(err).Msg("Failed to spawn browser")
		return models.LaunchFailed("failed to spawn browser: %v", err)
	}

	if err := o.registry.Attach(spec.ProfileID, proc); err != nil {
		// the reservation vanished underneath us; do not leave an orphan
		if killErr := proc.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			logger.Error().Err(killErr).Int("pid", proc.Pid()).Msg("Failed to kill unregistered browser")
		}
		go proc.Wait()
		return models.LaunchFailed("failed to register browser: %v", err)
	}

	go o.watch(spec.ProfileID, proc)

	logger.Info().
		Int("pid", proc.Pid()).
		Int("extensions", len(spec.Extensions)).
		Msg("Browser launched")

	return models.LaunchResult{Success: true, PID: proc.Pid()}
}

func (o *Orchestrator) spawn(path string, args []string) (proc Process, err error) {
	defer func() {
		if r := recover(); r != nil {
			proc, err = nil, fmt.Errorf("spawn panicked: %v", r)
		}
	}()
	return o.spawner.Spawn(path, args)
}

// watch waits for the process to exit, then releases its slot and notifies listeners
func (o *Orchestrator) watch(profileID string, proc Process) {
	waitErr := proc.Wait()

	state, released := o.registry.Release(profileID, proc)
	if !released {
		return
	}

	event := models.ProfileClosedEvent{
		ProfileID: profileID,
		PID:       proc.Pid(),
		Requested: state == StateStopping,
		At:        o.now(),
	}
	if waitErr != nil {
		event.ExitError = waitErr.Error()
	}

	logger := o.logger.With().Str("profileId", profileID).Int("pid", event.PID).Logger()
	if event.Requested {
		logger.Info().Msg("Browser stopped")
	} else {
		logger.Warn().Str("exit", event.ExitError).Msg("Browser exited unexpectedly")
	}

	o.emit(event)
}

func (o *Orchestrator) emit(event models.ProfileClosedEvent) {
	o.mu.RLock()
	listeners := slices.Clone(o.listeners)
	o.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error().Interface("panic", r).Msg("Profile closed listener panicked")
				}
			}()
			fn(event)
		}()
	}
}

// Stop asks the profile's browser to exit, escalating to a kill when the graceful request fails.
// The slot stays until the exit is observed.
func (o *Orchestrator) Stop(profileID string) models.StopResult {
	logger := o.logger.With().Str("profileId", profileID).Logger()

	proc, err := o.registry.MarkStopping(profileID)
	if err != nil {
		if errors.Is(err, ErrStillLaunching) {
			return models.StopFailed("profile %s is still launching", profileID)
		}
		return models.StopFailed("profile %s is not running", profileID)
	}

	termErr := proc.Terminate()
	if termErr == nil || errors.Is(termErr, os.ErrProcessDone) {
		logger.Info().Int("pid", proc.Pid()).Msg("Termination requested")
		return models.StopResult{Success: true}
	}

	logger.Warn().Err(termErr).Int("pid", proc.Pid()).Msg("Graceful termination failed, killing")

	killErr := proc.Kill()
	if killErr == nil || errors.Is(killErr, os.ErrProcessDone) {
		return models.StopResult{Success: true}
	}

	// nothing was delivered, so a later exit is not the answer to this request
	o.registry.Resume(profileID, proc)
	logger.Error().Err(killErr).Int("pid", proc.Pid()).Msg("Failed to kill browser")
	return models.StopFailed("failed to stop profile %s: terminate: %v; kill: %v", profileID, termErr, killErr)
}

// StopAll stops every registered profile and waits until their exits are observed or ctx ends
func (o *Orchestrator) StopAll(ctx context.Context) error {
	for _, entry := range o.registry.List() {
		if entry.State == StateLaunching {
			continue
		}
		if res := o.Stop(entry.ProfileID); !res.Success {
			o.logger.Warn().Str("profileId", entry.ProfileID).Str("error", res.Error).Msg("Failed to stop profile")
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for o.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to stop all profiles: %d still running: %w", o.registry.Len(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
