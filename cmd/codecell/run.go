package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/isdmx/codecell/classifier"
	"github.com/isdmx/codecell/config"
	"github.com/isdmx/codecell/dispatcher"
	"github.com/isdmx/codecell/logger"
	"github.com/isdmx/codecell/monitor"
	"github.com/isdmx/codecell/runstate"
	"github.com/isdmx/codecell/sandbox"
)

var errRunFailed = errors.New("run failed")

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a snippet and stream its output",
	Long: `Classify a snippet and run it in the matching sandbox.

Code can be provided via:
  - File argument: codecell run script.py
  - Inline flag: codecell run -c 'print(1+1)'
  - Stdin: echo 'print(1+1)' | codecell run

With --format text outputs are printed as they arrive; json and yaml print
the final run record instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("code", "c", "", "Code to execute")
	rootCmd.AddCommand(runCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.Load(path)
	}
	return config.New()
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	source, filename, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	sub, err := classifySource(cmd, source, filename)
	if err != nil {
		return err
	}
	if !sub.Runnable() {
		return fmt.Errorf("%w: %q", dispatcher.ErrUnsupportedLanguage, sub.DeclaredLanguage)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	backends, err := sandbox.NewBackends(log, cfg, nil)
	if err != nil {
		return err
	}
	defer backends.Close(context.WithoutCancel(cmd.Context()))

	tracker := runstate.NewTracker()
	d := dispatcher.New(log, tracker, backends, nil, monitor.NewTracer())

	run, err := streamRun(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), d, tracker, sub, format)
	if err != nil {
		log.Debug("run ended", zap.String(logger.RunIDKey, run.ID), zap.Error(err))
	}
	return err
}

// streamRun dispatches sub and renders the run to out. In text mode every
// output is written as soon as the tracker accepts it.
func streamRun(ctx context.Context, out, errOut io.Writer, d *dispatcher.Dispatcher, tracker *runstate.Tracker, sub classifier.Submission, format string) (runstate.Run, error) {
	runID := dispatcher.NewRunID()

	if format == formatText {
		var mu sync.Mutex
		printed := 0
		status := runstate.StatusQueued
		cancel := tracker.Subscribe(func(run runstate.Run) {
			if run.ID != runID {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if run.Status == runstate.StatusLoadingPackages && status != run.Status {
				fmt.Fprintln(errOut, "Loading packages...")
			}
			status = run.Status
			for _, event := range run.Outputs[printed:] {
				writeEvent(out, event)
			}
			printed = len(run.Outputs)
		})
		defer cancel()
	}

	run, err := d.Dispatch(ctx, sub.CleanedCode, sub.InferredLanguage, runID)
	if err != nil {
		return run, err
	}

	if format != formatText {
		if err := encode(out, format, run); err != nil {
			return run, err
		}
	}
	if run.Status == runstate.StatusFailed {
		return run, errRunFailed
	}
	return run, nil
}

func writeEvent(w io.Writer, event runstate.OutputEvent) {
	switch event.Kind {
	case runstate.OutputImage:
		fmt.Fprintf(w, "[image/png, %d bytes base64]\n", len(event.Value)-len(runstate.ImagePrefix))
	default:
		fmt.Fprintln(w, event.Value)
	}
}
