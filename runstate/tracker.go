package runstate

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors returned by the Tracker.
var (
	ErrDuplicateRun      = errors.New("run already exists")
	ErrRunNotFound       = errors.New("run not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOutputsRewritten  = errors.New("outputs may only be appended")
)

// Tracker maps run ids to run records. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	order []string
	runs  map[string]Run

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(Run)
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		runs: make(map[string]Run),
		subs: make(map[int]func(Run)),
	}
}

// Add appends a new queued run.
func (t *Tracker) Add(id string) (Run, error) {
	if id == "" {
		return Run{}, fmt.Errorf("add run: empty id")
	}

	t.mu.Lock()
	if _, ok := t.runs[id]; ok {
		t.mu.Unlock()
		return Run{}, fmt.Errorf("add run %s: %w", id, ErrDuplicateRun)
	}
	run := Run{ID: id, Outputs: []OutputEvent{}, Status: StatusQueued}
	t.runs[id] = run
	t.order = append(t.order, id)
	t.mu.Unlock()

	t.publish(run)
	return run.Clone(), nil
}

// Update replaces the record for run.ID. The new record must keep every
// existing output as a prefix and must not move the status backwards.
func (t *Tracker) Update(run Run) error {
	t.mu.Lock()
	current, ok := t.runs[run.ID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("update run %s: %w", run.ID, ErrRunNotFound)
	}
	if !current.Status.CanTransition(run.Status) {
		t.mu.Unlock()
		return fmt.Errorf("update run %s from %s to %s: %w", run.ID, current.Status, run.Status, ErrInvalidTransition)
	}
	if !hasPrefix(run.Outputs, current.Outputs) {
		t.mu.Unlock()
		return fmt.Errorf("update run %s: %w", run.ID, ErrOutputsRewritten)
	}
	stored := run.Clone()
	t.runs[run.ID] = stored
	t.mu.Unlock()

	t.publish(stored)
	return nil
}

// Get returns a copy of the run with the given id.
func (t *Tracker) Get(id string) (Run, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[id]
	if !ok {
		return Run{}, false
	}
	return run.Clone(), true
}

// List returns copies of all runs in the order they were added.
func (t *Tracker) List() []Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	runs := make([]Run, 0, len(t.order))
	for _, id := range t.order {
		runs = append(runs, t.runs[id].Clone())
	}
	return runs
}

// Len returns the number of tracked runs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Clear removes every run. Runs still in flight will fail to update
// afterwards with ErrRunNotFound.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.order = nil
	t.runs = make(map[string]Run)
	t.mu.Unlock()
}

// Subscribe registers fn to receive every accepted record. fn is called
// synchronously from the updating goroutine and must not call back into
// Subscribe. The returned function removes the subscription.
func (t *Tracker) Subscribe(fn func(Run)) (cancel func()) {
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
		})
	}
}

func (t *Tracker) publish(run Run) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	for _, fn := range t.subs {
		fn(run.Clone())
	}
}

func hasPrefix(outputs, prefix []OutputEvent) bool {
	if len(outputs) < len(prefix) {
		return false
	}
	for i := range prefix {
		if outputs[i] != prefix[i] {
			return false
		}
	}
	return true
}
