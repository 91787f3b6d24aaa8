package browser

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAlreadyRunning is returned when a profile already holds a registry slot
	ErrAlreadyRunning = errors.New("profile is already running")
	// ErrNotRunning is returned when a profile has no registry slot
	ErrNotRunning = errors.New("profile is not running")
	// ErrStillLaunching is returned when a stop arrives before the process handle is attached
	ErrStillLaunching = errors.New("profile is still launching")
)

// State is the lifecycle position of a registered profile. Idle profiles have no entry.
type State string

const (
	StateLaunching State = "launching"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
)

// Entry is a snapshot of one registry slot
type Entry struct {
	ProfileID string    `json:"profileId"`
	PID       int       `json:"pid"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"startedAt"`
}

type slot struct {
	entry Entry
	proc  Process
}

// Registry maps profile ids to live browser processes, at most one per profile.
// A slot is reserved before the spawn call and released only when the process exit is observed.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
	now   func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[string]*slot),
		now:   time.Now,
	}
}

// Reserve claims the slot for profileID in the Launching state
func (r *Registry) Reserve(profileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.slots[profileID]; ok {
		return ErrAlreadyRunning
	}
	r.slots[profileID] = &slot{entry: Entry{
		ProfileID: profileID,
		State:     StateLaunching,
		StartedAt: r.now(),
	}}
	return nil
}

// Attach binds a spawned process to a reserved slot and marks it Running
func (r *Registry) Attach(profileID string, proc Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[profileID]
	if !ok || s.entry.State != StateLaunching {
		return ErrNotRunning
	}
	s.proc = proc
	s.entry.PID = proc.Pid()
	s.entry.State = StateRunning
	return nil
}

// MarkStopping flags a running slot as stopping and returns its process.
// Calling it again on a stopping slot returns the same process so a failed stop can be retried.
func (r *Registry) MarkStopping(profileID string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[profileID]
	if !ok {
		return nil, ErrNotRunning
	}
	if s.entry.State == StateLaunching {
		return nil, ErrStillLaunching
	}
	s.entry.State = StateStopping
	return s.proc, nil
}

// Resume returns a stopping slot owned by proc to Running after a stop that could not be delivered
func (r *Registry) Resume(profileID string, proc Process) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[profileID]
	if !ok || s.proc != proc || s.entry.State != StateStopping {
		return false
	}
	s.entry.State = StateRunning
	return true
}

// Release removes the slot if it still belongs to proc. A nil proc rolls back a reservation
// that never got a process. It reports whether the slot was removed and the state it was in.
func (r *Registry) Release(profileID string, proc Process) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[profileID]
	if !ok || s.proc != proc {
		return "", false
	}
	delete(r.slots, profileID)
	return s.entry.State, true
}

// Get returns the entry for profileID
func (r *Registry) Get(profileID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[profileID]
	if !ok {
		return Entry{}, false
	}
	return s.entry, true
}

// IsRunning reports whether profileID holds a slot in any state
func (r *Registry) IsRunning(profileID string) bool {
	_, ok := r.Get(profileID)
	return ok
}

// List returns all entries ordered by profile id
func (r *Registry) List() []Entry {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.slots))
	for _, s := range r.slots {
		entries = append(entries, s.entry)
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ProfileID < entries[j].ProfileID
	})
	return entries
}

// Len returns the number of occupied slots
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
