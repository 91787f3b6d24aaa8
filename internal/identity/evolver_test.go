package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-orchestrator/internal/config"
	"identity-orchestrator/internal/models"
)

type fakeTarget struct {
	mu         sync.Mutex
	identities []models.Identity
	evolved    []string
	cutoffs    []time.Time
	failFor    string
}

func (f *fakeTarget) Identities(context.Context) ([]models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Identity(nil), f.identities...), nil
}

func (f *fakeTarget) Evolve(_ context.Context, profileID string, dueBefore time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if profileID == f.failFor {
		return errors.New("store unavailable")
	}
	f.evolved = append(f.evolved, profileID)
	f.cutoffs = append(f.cutoffs, dueBefore)
	return nil
}

func TestEvolverTickEvolvesOnlyDueIdentities(t *testing.T) {
	target := &fakeTarget{identities: []models.Identity{
		{ProfileID: "fresh", LastMutatedAt: epoch.Add(-time.Hour)},
		{ProfileID: "stale", LastMutatedAt: epoch.Add(-80 * time.Hour)},
		{ProfileID: "exact", LastMutatedAt: epoch.Add(-72 * time.Hour)},
		{ProfileID: "broken", LastMutatedAt: epoch.Add(-100 * time.Hour)},
	}, failFor: "broken"}

	cfg := config.Default().Identity
	v := NewEvolver(target, &cfg, zerolog.Nop())
	v.now = func() time.Time { return epoch }

	n, err := v.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"stale", "exact"}, target.evolved)
	for _, c := range target.cutoffs {
		assert.Equal(t, epoch.Add(-72*time.Hour), c)
	}
}

func TestEvolverRunStopsOnCancel(t *testing.T) {
	target := &fakeTarget{identities: []models.Identity{
		{ProfileID: "stale", LastMutatedAt: epoch.Add(-80 * time.Hour)},
	}}
	cfg := config.IdentityConfig{EvolutionInterval: time.Hour, CheckInterval: 5 * time.Millisecond}
	v := NewEvolver(target, &cfg, zerolog.Nop())
	v.now = func() time.Time { return epoch }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		v.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return len(target.evolved) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evolver did not stop")
	}
}
