package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/isdmx/codecell/classifier"
	"github.com/isdmx/codecell/logger"
	"github.com/isdmx/codecell/monitor"
	"github.com/isdmx/codecell/runstate"
	"github.com/isdmx/codecell/sandbox"
)

// ErrUnsupportedLanguage is returned before a run is created when no
// backend can execute the language.
var ErrUnsupportedLanguage = sandbox.ErrUnsupportedLanguage

// Dispatcher owns the mapping from languages to backends.
type Dispatcher struct {
	logger   *zap.Logger
	tracker  *runstate.Tracker
	backends *sandbox.Backends
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
}

// New creates a Dispatcher. metrics and tracer may be nil.
func New(logger *zap.Logger, tracker *runstate.Tracker, backends *sandbox.Backends, metrics *monitor.Metrics, tracer *monitor.Tracer) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		tracker:  tracker,
		backends: backends,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// CanRun reports whether the run action is available for lang.
func (d *Dispatcher) CanRun(lang classifier.Language) bool {
	_, err := d.backendFor(lang)
	return err == nil
}

func (d *Dispatcher) backendFor(lang classifier.Language) (sandbox.Backend, error) {
	var backend sandbox.Backend
	switch lang {
	case classifier.Python:
		backend = d.backends.Python
	case classifier.JavaScript, classifier.TypeScript:
		backend = d.backends.Script
	case classifier.Unknown:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	default:
		return nil, fmt.Errorf("%w: language %d", ErrUnsupportedLanguage, int(lang))
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: no backend configured for %s", ErrUnsupportedLanguage, lang)
	}
	return backend, nil
}

// Dispatch runs code to completion and returns the terminal record. The
// error is non-nil only when the run could not be created; execution
// failures are reported through the record's status and outputs.
// Cancelling ctx does not abort a dispatched run.
func (d *Dispatcher) Dispatch(ctx context.Context, code string, lang classifier.Language, runID string) (runstate.Run, error) {
	backend, err := d.begin(lang, runID)
	if err != nil {
		return runstate.Run{}, err
	}
	return d.execute(ctx, backend, code, lang, runID), nil
}

// DispatchAsync starts a run in the background. The channel yields the
// terminal record and is then closed.
func (d *Dispatcher) DispatchAsync(ctx context.Context, code string, lang classifier.Language, runID string) (<-chan runstate.Run, error) {
	backend, err := d.begin(lang, runID)
	if err != nil {
		return nil, err
	}

	done := make(chan runstate.Run, 1)
	go func() {
		defer close(done)
		done <- d.execute(ctx, backend, code, lang, runID)
	}()
	return done, nil
}

// RunSnippet classifies raw and dispatches it under a new run id.
func (d *Dispatcher) RunSnippet(ctx context.Context, raw string) (runstate.Run, error) {
	sub := classifier.Classify(raw)
	if !sub.Runnable() {
		return runstate.Run{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, sub.DeclaredLanguage)
	}
	return d.Dispatch(ctx, sub.CleanedCode, sub.InferredLanguage, NewRunID())
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// begin validates the language and appends the queued run.
func (d *Dispatcher) begin(lang classifier.Language, runID string) (sandbox.Backend, error) {
	backend, err := d.backendFor(lang)
	if err != nil {
		return nil, err
	}
	if _, err := d.tracker.Add(runID); err != nil {
		return nil, err
	}
	return backend, nil
}

func (d *Dispatcher) execute(ctx context.Context, backend sandbox.Backend, code string, lang classifier.Language, runID string) runstate.Run {
	ctx = context.WithoutCancel(ctx)
	ctx, span := d.tracer.StartSpan(ctx, "run",
		monitor.AttrRunID.String(runID),
		monitor.AttrLanguage.String(lang.String()),
	)
	defer span.End()

	runLog := logger.WithRun(d.logger, runID, lang.String())
	runLog.Info("run dispatched")

	start := time.Now()
	d.metrics.RunStarted()

	rec := newRecorder(runLog, d.tracker, runID)
	execErr := safeExecute(ctx, backend, code, lang, rec)
	final := rec.finish(execErr)

	elapsed := time.Since(start)
	d.metrics.RunFinished(lang.String(), string(final.Status), elapsed.Seconds())
	span.SetAttributes(
		monitor.AttrStatus.String(string(final.Status)),
		monitor.AttrOutputs.Int(len(final.Outputs)),
	)

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		runLog.Warn("run failed",
			zap.String("op", sandbox.Operation(execErr)),
			zap.Duration("duration", elapsed),
			zap.Error(execErr),
		)
	} else {
		runLog.Info("run completed",
			zap.Int("outputs", len(final.Outputs)),
			zap.Duration("duration", elapsed),
		)
	}

	return final
}

// safeExecute turns a backend panic into a run failure.
func safeExecute(ctx context.Context, backend sandbox.Backend, code string, lang classifier.Language, rep sandbox.Reporter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return backend.Execute(ctx, code, lang, rep)
}
