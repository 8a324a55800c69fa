package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// packagesEnv tells the driver where installed packages live.
const packagesEnv = "CODECELL_PACKAGES"

// InterpreterLauncher starts a Python interpreter running driver. The
// returned writer feeds the driver's stdin and the reader yields its stdout.
type InterpreterLauncher interface {
	Launch(ctx context.Context, driver, packagesDir string) (io.WriteCloser, io.Reader, error)
}

// ProcessLauncher runs the driver in a host python process.
type ProcessLauncher struct {
	Binary    string
	CmdRunner CommandRunner
	Stderr    io.Writer
}

// Launch implements InterpreterLauncher
func (l *ProcessLauncher) Launch(ctx context.Context, driver, packagesDir string) (io.WriteCloser, io.Reader, error) {
	proc, err := l.CmdRunner.Spawn(ctx, ProcessSpec{
		Name: l.Binary,
		Args: []string{"-u", "-c", driver},
		Env: map[string]string{
			packagesEnv:        packagesDir,
			"PYTHONUNBUFFERED": "1",
			"MPLBACKEND":       "Agg",
		},
		Stderr: l.Stderr,
	})
	if err != nil {
		return nil, nil, err
	}
	return proc.Stdin(), proc.Output(), nil
}

// WasmLauncher runs the driver in a Python WASI build under wazero. The
// packages directory is mounted read-only at /packages.
type WasmLauncher struct {
	logger   *zap.Logger
	wasmPath string
	stderr   io.Writer
}

// NewWasmLauncher creates a WasmLauncher for the module at wasmPath.
func NewWasmLauncher(logger *zap.Logger, wasmPath string, stderr io.Writer) *WasmLauncher {
	return &WasmLauncher{logger: logger, wasmPath: wasmPath, stderr: stderr}
}

// Launch implements InterpreterLauncher
func (l *WasmLauncher) Launch(ctx context.Context, driver, packagesDir string) (io.WriteCloser, io.Reader, error) {
	wasm, err := os.ReadFile(l.wasmPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read python module: %w", err)
	}

	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, wasm)
	if err != nil {
		rt.Close(ctx)
		return nil, nil, fmt.Errorf("compile python module: %w", err)
	}

	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()

	moduleConfig := wazero.NewModuleConfig().
		WithStdin(stdinReader).
		WithStdout(stdoutWriter).
		WithStderr(l.stderr).
		WithArgs("python", "-u", "-c", driver).
		WithEnv(packagesEnv, "/packages").
		WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(packagesDir, "/packages")).
		WithName("")

	go func() {
		defer rt.Close(ctx)
		_, err := rt.InstantiateModule(ctx, compiled, moduleConfig)
		if err != nil {
			l.logger.Error("python module exited", zap.Error(err))
		}
		stdoutWriter.Close()
	}()

	return stdinWriter, stdoutReader, nil
}
