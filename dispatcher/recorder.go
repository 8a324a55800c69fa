package dispatcher

import (
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/codecell/runstate"
)

const genericFailure = "Execution failed"

// recorder relays backend progress into the tracker. It owns the run's
// current record, so every update extends the previous one.
type recorder struct {
	logger  *zap.Logger
	tracker *runstate.Tracker

	mu       sync.Mutex
	run      runstate.Run
	finished bool
}

func newRecorder(logger *zap.Logger, tracker *runstate.Tracker, runID string) *recorder {
	return &recorder{
		logger:  logger,
		tracker: tracker,
		run:     runstate.Run{ID: runID, Outputs: []runstate.OutputEvent{}, Status: runstate.StatusQueued},
	}
}

// SetStatus implements sandbox.Reporter. Terminal statuses are reserved
// for finish.
func (r *recorder) SetStatus(status runstate.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || status.Terminal() || status == r.run.Status || !r.run.Status.CanTransition(status) {
		return
	}
	next := r.run.Clone()
	next.Status = status
	r.commit(next)
}

// Emit implements sandbox.Reporter
func (r *recorder) Emit(event runstate.OutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		r.logger.Debug("dropping output after terminal status")
		return
	}
	next := r.run.Clone()
	next.Outputs = append(next.Outputs, event)
	r.commit(next)
}

// finish records the single terminal status. A non-nil err appends one
// text event carrying its message.
func (r *recorder) finish(err error) runstate.Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.run.Clone()
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = genericFailure
		}
		next.Outputs = append(next.Outputs, runstate.Text(msg))
		next.Status = runstate.StatusFailed
	} else {
		next.Status = runstate.StatusCompleted
	}
	r.commit(next)
	r.finished = true
	return r.run.Clone()
}

// commit stores next locally and pushes it to the tracker. A tracker that
// was cleared mid-run rejects the update; the local record still advances.
func (r *recorder) commit(next runstate.Run) {
	r.run = next
	if err := r.tracker.Update(next); err != nil {
		r.logger.Warn("failed to update run record", zap.Error(err))
	}
}
