package identity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/models"
)

// EvolutionTarget is where the evolver finds identities and applies natural evolution
type EvolutionTarget interface {
	Identities(ctx context.Context) ([]models.Identity, error)
	// Evolve applies natural evolution to the profile's identity if it was last mutated at or before dueBefore
	Evolve(ctx context.Context, profileID string, dueBefore time.Time) error
}

// Evolver runs natural evolution for every identity whose own interval has elapsed.
// Identities are checked together on a shared cadence but each one's timer is its own lastMutatedAt.
type Evolver struct {
	target   EvolutionTarget
	interval time.Duration
	cadence  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEvolver creates an evolution scheduler
func NewEvolver(target EvolutionTarget, cfg *config.IdentityConfig, logger zerolog.Logger) *Evolver {
	return &Evolver{
		target:   target,
		interval: cfg.EvolutionInterval,
		cadence:  cfg.CheckInterval,
		now:      time.Now,
		logger:   logger.With().Str("component", "evolver").Logger(),
	}
}

// Due reports whether an identity's interval has elapsed
func (v *Evolver) Due(id models.Identity, now time.Time) bool {
	return now.Sub(id.LastMutatedAt) >= v.interval
}

// Tick evolves every due identity once and returns how many were evolved.
// A failure on one identity is logged and does not stop the others.
func (v *Evolver) Tick(ctx context.Context) (int, error) {
	identities, err := v.target.Identities(ctx)
	if err != nil {
		return 0, err
	}

	now := v.now()
	cutoff := now.Add(-v.interval)
	evolved := 0

	for _, id := range identities {
		if ctx.Err() != nil {
			return evolved, ctx.Err()
		}
		if !v.Due(id, now) {
			continue
		}
		if err := v.target.Evolve(ctx, id.ProfileID, cutoff); err != nil {
			v.logger.Warn().
				Err(err).
				Str("profileId", id.ProfileID).
				Msg("Natural evolution failed")
			continue
		}
		evolved++
	}

	if evolved > 0 {
		v.logger.Info().
			Int("evolved", evolved).
			Int("checked", len(identities)).
			Msg("Evolution tick finished")
	}
	return evolved, nil
}

// Run ticks on the check cadence until the context is cancelled
func (v *Evolver) Run(ctx context.Context) {
	v.logger.Info().
		Dur("interval", v.interval).
		Dur("cadence", v.cadence).
		Msg("Identity evolution started")

	ticker := time.NewTicker(v.cadence)
	defer ticker.Stop()

	for {
		if _, err := v.Tick(ctx); err != nil && ctx.Err() == nil {
			v.logger.Error().Err(err).Msg("Evolution tick failed")
		}

		select {
		case <-ctx.Done():
			v.logger.Info().Msg("Identity evolution stopped")
			return
		case <-ticker.C:
		}
	}
}
