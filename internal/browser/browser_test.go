package browser

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-orchestrator/internal/models"
)

type fakeProcess struct {
	pid    int
	exited chan struct{}
	once   sync.Once
	err    error
	waits  atomic.Int32

	mu           sync.Mutex
	terminateErr error
	killErr      error
	terminated   int
	killed       int
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, exited: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	return p.terminateErr
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
	return p.killErr
}

func (p *fakeProcess) Wait() error {
	p.waits.Add(1)
	<-p.exited
	return p.err
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.exited)
	})
}

func (p *fakeProcess) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated, p.killed
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	args  [][]string
	err   error

	entered chan struct{}
	gate    chan struct{}
}

func (s *fakeSpawner) Spawn(path string, args []string) (Process, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.args = append(s.args, args)
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(4000 + len(s.procs))
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.args)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func fakeChromium(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chromium")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func newTestOrchestrator(spawner Spawner) (*Orchestrator, chan models.ProfileClosedEvent) {
	o := NewOrchestrator(NewRegistry(), spawner, zerolog.Nop())
	events := make(chan models.ProfileClosedEvent, 8)
	o.OnProfileClosed(func(e models.ProfileClosedEvent) { events <- e })
	return o, events
}

func testSpec(t *testing.T, profileID string) LaunchSpec {
	return LaunchSpec{
		ProfileID:    profileID,
		ChromiumPath: fakeChromium(t),
		UserDataDir:  filepath.Join(t.TempDir(), "user-data"),
		Extensions:   []string{"/bundles/" + profileID},
	}
}

func waitEvent(t *testing.T, events chan models.ProfileClosedEvent) models.ProfileClosedEvent {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no profile closed event")
		return models.ProfileClosedEvent{}
	}
}

func assertNoEvent(t *testing.T, events chan models.ProfileClosedEvent) {
	t.Helper()
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLaunchRegistersProcess(t *testing.T) {
	spawner := &fakeSpawner{}
	o, _ := newTestOrchestrator(spawner)

	res := o.Launch(testSpec(t, "alpha"))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 4000, res.PID)

	entry, ok := o.Registry().Get("alpha")
	require.True(t, ok)
	assert.Equal(t, StateRunning, entry.State)
	assert.Equal(t, 4000, entry.PID)
}

func TestLaunchRejectsDuplicateWithoutSpawning(t *testing.T) {
	spawner := &fakeSpawner{}
	o, _ := newTestOrchestrator(spawner)

	first := o.Launch(testSpec(t, "alpha"))
	require.True(t, first.Success)

	second := o.Launch(testSpec(t, "alpha"))
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "already running")
	assert.Equal(t, 1, spawner.calls())

	entry, _ := o.Registry().Get("alpha")
	assert.Equal(t, first.PID, entry.PID)
}

func TestLaunchReservesBeforeSpawnReturns(t *testing.T) {
	spawner := &fakeSpawner{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	o, _ := newTestOrchestrator(spawner)
	spec := testSpec(t, "alpha")

	done := make(chan models.LaunchResult)
	go func() { done <- o.Launch(spec) }()
	<-spawner.entered

	entry, ok := o.Registry().Get("alpha")
	require.True(t, ok)
	assert.Equal(t, StateLaunching, entry.State)

	second := o.Launch(spec)
	assert.False(t, second.Success)

	close(spawner.gate)
	assert.True(t, (<-done).Success)
	assert.Equal(t, 1, spawner.calls())
}

func TestLaunchInvalidExecutable(t *testing.T) {
	spawner := &fakeSpawner{}
	o, _ := newTestOrchestrator(spawner)

	dir := t.TempDir()
	notExec := filepath.Join(dir, "chromium")
	require.NoError(t, os.WriteFile(notExec, []byte("x"), 0o644))

	for _, path := range []string{"", filepath.Join(dir, "missing"), dir, notExec} {
		spec := testSpec(t, "alpha")
		spec.ChromiumPath = path
		res := o.Launch(spec)
		assert.False(t, res.Success, path)
		assert.NotEmpty(t, res.Error, path)
	}
	assert.Zero(t, spawner.calls())
	assert.Zero(t, o.Registry().Len())
}

func TestLaunchSpawnErrorRollsBackReservation(t *testing.T) {
	spawner := &fakeSpawner{err: errors.New("exec format error")}
	o, _ := newTestOrchestrator(spawner)

	res := o.Launch(testSpec(t, "alpha"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "exec format error")
	assert.False(t, o.Registry().IsRunning("alpha"))

	spawner.mu.Lock()
	spawner.err = nil
	spawner.mu.Unlock()
	assert.True(t, o.Launch(testSpec(t, "alpha")).Success)
}

func TestStopUnknownProfile(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeSpawner{})
	res := o.Stop("ghost")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not running")
}

func TestStopReleasesOnlyOnExit(t *testing.T) {
	spawner := &fakeSpawner{}
	o, events := newTestOrchestrator(spawner)
	require.True(t, o.Launch(testSpec(t, "alpha")).Success)
	proc := spawner.proc(0)

	res := o.Stop("alpha")
	require.True(t, res.Success, res.Error)
	terminated, killed := proc.counts()
	assert.Equal(t, 1, terminated)
	assert.Zero(t, killed)

	entry, ok := o.Registry().Get("alpha")
	require.True(t, ok, "slot must survive until the process exits")
	assert.Equal(t, StateStopping, entry.State)
	assertNoEvent(t, events)

	proc.exit(nil)
	event := waitEvent(t, events)
	assert.Equal(t, "alpha", event.ProfileID)
	assert.Equal(t, proc.pid, event.PID)
	assert.True(t, event.Requested)
	assert.Empty(t, event.ExitError)
	assert.False(t, o.Registry().IsRunning("alpha"))
	assertNoEvent(t, events)
}

func TestStopEscalatesToKill(t *testing.T) {
	spawner := &fakeSpawner{}
	o, _ := newTestOrchestrator(spawner)
	require.True(t, o.Launch(testSpec(t, "alpha")).Success)
	proc := spawner.proc(0)
	proc.terminateErr = errors.New("operation not permitted")

	assert.True(t, o.Stop("alpha").Success)
	terminated, killed := proc.counts()
	assert.Equal(t, 1, terminated)
	assert.Equal(t, 1, killed)
}

func TestStopFailureLeavesEntry(t *testing.T) {
	spawner := &fakeSpawner{}
	o, _ := newTestOrchestrator(spawner)
	require.True(t, o.Launch(testSpec(t, "alpha")).Success)
	proc := spawner.proc(0)
	proc.terminateErr = errors.New("operation not permitted")
	proc.killErr = errors.New("operation not permitted")

	res := o.Stop("alpha")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kill")
	entry, ok := o.Registry().Get("alpha")
	require.True(t, ok)
	assert.Equal(t, StateRunning, entry.State)

	// a retry reaches the same process
	proc.mu.Lock()
	proc.killErr = nil
	proc.mu.Unlock()
	assert.True(t, o.Stop("alpha").Success)
}

func TestCrashAfterFailedStopIsNotRequested(t *testing.T) {
	spawner := &fakeSpawner{}
	o, events := newTestOrchestrator(spawner)
	require.True(t, o.Launch(testSpec(t, "alpha")).Success)
	proc := spawner.proc(0)
	proc.terminateErr = errors.New("operation not permitted")
	proc.killErr = errors.New("operation not permitted")

	require.False(t, o.Stop("alpha").Success)

	proc.exit(errors.New("signal: segmentation fault"))
	event := waitEvent(t, events)
	assert.False(t, event.Requested)
	assert.Equal(t, "signal: segmentation fault", event.ExitError)
}

func TestLaunchReapsProcessWhenReservationVanishes(t *testing.T) {
	spawner := &fakeSpawner{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	o, events := newTestOrchestrator(spawner)
	spec := testSpec(t, "alpha")

	done := make(chan models.LaunchResult)
	go func() { done <- o.Launch(spec) }()
	<-spawner.entered

	_, released := o.Registry().Release("alpha", nil)
	require.True(t, released)
	close(spawner.gate)

	res := <-done
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "failed to register browser")

	proc := spawner.proc(0)
	_, killed := proc.counts()
	assert.Equal(t, 1, killed)
	assert.Eventually(t, func() bool { return proc.waits.Load() == 1 }, time.Second, 10*time.Millisecond)

	proc.exit(nil)
	assertNoEvent(t, events)
	assert.Zero(t, o.Registry().Len())
}

func TestStopTreatsExitedProcessAsStopped(t *testing.T) {
	spawner := &fakeSpawner{}
	o, _ := newTestOrchestrator(spawner)
	require.True(t, o.Launch(testSpec(t, "alpha")).Success)
	spawner.proc(0).terminateErr = os.ErrProcessDone

	assert.True(t, o.Stop("alpha").Success)
	_, killed := spawner.proc(0).counts()
	assert.Zero(t, killed)
}

func TestCrashReleasesAndNotifiesOnce(t *testing.T) {
	spawner := &fakeSpawner{}
	o, events := newTestOrchestrator(spawner)
	require.True(t, o.Launch(testSpec(t, "alpha")).Success)
	require.True(t, o.Launch(testSpec(t, "beta")).Success)

	spawner.proc(0).exit(errors.New("signal: segmentation fault"))
	event := waitEvent(t, events)
	assert.Equal(t, "alpha", event.ProfileID)
	assert.False(t, event.Requested)
	assert.Equal(t, "signal: segmentation fault", event.ExitError)
	assertNoEvent(t, events)

	assert.False(t, o.Registry().IsRunning("alpha"))
	assert.True(t, o.Registry().IsRunning("beta"))

	// the profile can be launched again after the crash
	assert.True(t, o.Launch(testSpec(t, "alpha")).Success)
}

func TestListenerPanicDoesNotBreakCleanup(t *testing.T) {
	spawner := &fakeSpawner{}
	o := NewOrchestrator(NewRegistry(), spawner, zerolog.Nop())
	o.OnProfileClosed(func(models.ProfileClosedEvent) { panic("boom") })
	events := make(chan models.ProfileClosedEvent, 1)
	o.OnProfileClosed(func(e models.ProfileClosedEvent) { events <- e })

	require.True(t, o.Launch(testSpec(t, "alpha")).Success)
	spawner.proc(0).exit(nil)

	assert.Equal(t, "alpha", waitEvent(t, events).ProfileID)
	assert.False(t, o.Registry().IsRunning("alpha"))
}
