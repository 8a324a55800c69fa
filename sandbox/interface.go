package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"go.uber.org/zap"

	"github.com/isdmx/codecell/classifier"
	"github.com/isdmx/codecell/runstate"
)

// Reporter receives progress from a backend while a run executes.
type Reporter interface {
	SetStatus(status runstate.Status)
	Emit(event runstate.OutputEvent)
}

// Backend executes code for one sandbox family. A nil error means the run
// completed; any other error fails the run with the error's message.
type Backend interface {
	Execute(ctx context.Context, code string, lang classifier.Language, rep Reporter) error
}

// NoOutputMessage is emitted when a successful run printed nothing.
const NoOutputMessage = "Execution completed successfully with no output."

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

// ProcessSpec describes an executable to spawn.
type ProcessSpec struct {
	Name string
	Args []string
	Env  map[string]string
	Dir  string
	// Stderr receives standard error separately when set. Otherwise it is
	// interleaved with standard output on Process.Output.
	Stderr io.Writer
}

// Process is a spawned executable. Output must be drained before Wait
// returns.
type Process interface {
	Stdin() io.WriteCloser
	Output() io.Reader
	Wait() (exitCode int, err error)
}

// CommandRunner defines an interface for spawning system commands
type CommandRunner interface {
	Spawn(ctx context.Context, spec ProcessSpec) (Process, error)
}

// RealCommandRunner implements CommandRunner using os/exec
type RealCommandRunner struct{}

type realProcess struct {
	stdin  io.WriteCloser
	output *io.PipeReader
	done   chan struct{}
	err    error
}

// Spawn starts the command described by spec
func (RealCommandRunner) Spawn(ctx context.Context, spec ProcessSpec) (Process, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...) //nolint:gosec // Safe as this is controlled input
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}

	p := &realProcess{stdin: stdin, output: pr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		pw.Close()
		close(p.done)
	}()

	return p, nil
}

func (p *realProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *realProcess) Output() io.Reader { return p.output }

func (p *realProcess) Wait() (int, error) {
	<-p.done
	if p.err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, p.err
}

// RunCommand spawns spec with an empty stdin, collects its combined output
// and waits for it to exit.
func RunCommand(ctx context.Context, runner CommandRunner, spec ProcessSpec) (output string, exitCode int, err error) {
	proc, err := runner.Spawn(ctx, spec)
	if err != nil {
		return "", 0, err
	}
	_ = proc.Stdin().Close()

	data, readErr := io.ReadAll(proc.Output())
	exitCode, err = proc.Wait()
	if err != nil {
		return string(data), exitCode, err
	}
	if readErr != nil {
		return string(data), exitCode, fmt.Errorf("failed to read output: %w", readErr)
	}
	return string(data), exitCode, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadFile(filename string) ([]byte, error)
	Remove(path string) error
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (RealFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// removeQuietly deletes temporary files, logging failures instead of
// returning them. Files that are already gone are not reported.
func removeQuietly(logger *zap.Logger, fs FileSystem, paths ...string) {
	for _, path := range paths {
		if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("failed to remove temporary file", zap.String("path", path), zap.Error(err))
		}
	}
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
