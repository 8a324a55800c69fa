package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/codecell/classifier"
	"github.com/isdmx/codecell/config"
	"github.com/isdmx/codecell/runstate"
)

const testRoot = "/sandbox"

func scriptConfig() config.ScriptConfig {
	return config.ScriptConfig{
		Backend:           config.BackendLocal,
		RootDir:           testRoot,
		NodeBinary:        "node",
		NPMBinary:         "npm",
		ProvisionPackages: []string{"typescript", "@types/node"},
	}
}

// nodeHandler answers node invocations with the given output and exit code
// and succeeds for everything else.
func nodeHandler(output string, exitCode int) func(ProcessSpec) (string, int, error) {
	return func(spec ProcessSpec) (string, int, error) {
		if spec.Name == "node" && len(spec.Args) == 1 {
			return output, exitCode, nil
		}
		return "", 0, nil
	}
}

func newTestScriptBackend(t *testing.T, runner *MockCommandRunner, fs *MockFileSystem) *ScriptBackend {
	t.Helper()
	backend, err := NewScriptBackend(zaptest.NewLogger(t), scriptConfig(),
		WithScriptCommandRunner(runner),
		WithScriptFileSystem(fs),
	)
	require.NoError(t, err)
	return backend
}

func TestScriptBackendJavaScript(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		runner := &MockCommandRunner{handler: nodeHandler("hi\n", 0)}
		fs := NewMockFileSystem()
		backend := newTestScriptBackend(t, runner, fs)
		rep := &recordingReporter{}

		err := backend.Execute(context.Background(), `console.log("hi")`, classifier.JavaScript, rep)
		require.NoError(t, err)

		assert.Equal(t, []runstate.OutputEvent{runstate.Text("hi")}, rep.Events())
		assert.Equal(t, emptyManifest, fs.Content(filepath.Join(testRoot, ManifestName)))
		assert.True(t, fs.dirs[filepath.Join(testRoot, ModulesDir)])

		nodeCalls := runner.Calls("node")
		require.Len(t, nodeCalls, 1)
		assert.Equal(t, testRoot, nodeCalls[0].Dir)
		assert.Equal(t, "1", nodeCalls[0].Env["NO_COLOR"])
		assert.Equal(t, "0", nodeCalls[0].Env["FORCE_COLOR"])
		assert.True(t, strings.HasSuffix(nodeCalls[0].Args[0], ".js"))

		// The temp file is gone and only the manifest remains.
		assert.Equal(t, []string{filepath.Join(testRoot, ManifestName)}, fs.Paths())
	})

	t.Run("Throws", func(t *testing.T) {
		runner := &MockCommandRunner{handler: nodeHandler("before\nError: boom\n    at Object.<anonymous>\n", 1)}
		fs := NewMockFileSystem()
		backend := newTestScriptBackend(t, runner, fs)
		rep := &recordingReporter{}

		err := backend.Execute(context.Background(), `console.log("before"); throw new Error("boom")`, classifier.JavaScript, rep)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProcessFailed)
		assert.Equal(t, "Execution failed with exit code 1", err.Error())

		events := rep.Events()
		require.NotEmpty(t, events)
		assert.Equal(t, runstate.Text("before"), events[0])
		assert.Contains(t, events[1].Value, "Error: boom")
		assert.Len(t, fs.Paths(), 1)
	})

	t.Run("NoOutput", func(t *testing.T) {
		runner := &MockCommandRunner{handler: nodeHandler("", 0)}
		backend := newTestScriptBackend(t, runner, NewMockFileSystem())
		rep := &recordingReporter{}

		require.NoError(t, backend.Execute(context.Background(), "const x = 1", classifier.JavaScript, rep))
		assert.Equal(t, []runstate.OutputEvent{runstate.Text(NoOutputMessage)}, rep.Events())
	})

	t.Run("SpawnErrorStillCleansUp", func(t *testing.T) {
		runner := &MockCommandRunner{handler: func(spec ProcessSpec) (string, int, error) {
			if spec.Name == "node" {
				return "", 0, errors.New("executable file not found")
			}
			return "", 0, nil
		}}
		fs := NewMockFileSystem()
		backend := newTestScriptBackend(t, runner, fs)

		err := backend.Execute(context.Background(), "1", classifier.JavaScript, &recordingReporter{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProcessFailed)
		assert.Len(t, fs.Paths(), 1)
	})

	t.Run("RemoveFailureDoesNotFailRun", func(t *testing.T) {
		fs := NewMockFileSystem()
		runner := &MockCommandRunner{handler: func(spec ProcessSpec) (string, int, error) {
			if spec.Name == "node" && len(spec.Args) == 1 {
				fs.removeErrors[filepath.Join(testRoot, spec.Args[0])] = errors.New("device busy")
				return "ok\n", 0, nil
			}
			return "", 0, nil
		}}
		backend := newTestScriptBackend(t, runner, fs)

		require.NoError(t, backend.Execute(context.Background(), "1", classifier.JavaScript, &recordingReporter{}))
	})

	t.Run("UniqueFileNames", func(t *testing.T) {
		runner := &MockCommandRunner{handler: nodeHandler("x\n", 0)}
		backend := newTestScriptBackend(t, runner, NewMockFileSystem())

		for i := 0; i < 3; i++ {
			require.NoError(t, backend.Execute(context.Background(), "1", classifier.JavaScript, &recordingReporter{}))
		}

		seen := map[string]bool{}
		for _, call := range runner.Calls("node") {
			assert.False(t, seen[call.Args[0]], "duplicate file %s", call.Args[0])
			seen[call.Args[0]] = true
		}
		assert.Len(t, seen, 3)
	})
}

// tscHandler emulates the compiler: it writes the compiled file unless
// emit is false and exits with exitCode.
func tscHandler(fs *MockFileSystem, exitCode int, diagnostics string, emit bool, runOutput string) func(ProcessSpec) (string, int, error) {
	return func(spec ProcessSpec) (string, int, error) {
		if spec.Name != "node" {
			return "", 0, nil
		}
		if len(spec.Args) > 1 && spec.Args[0] == tscEntry {
			if emit {
				compiled := strings.TrimSuffix(spec.Args[1], ".ts") + ".js"
				_ = fs.WriteFile(filepath.Join(testRoot, compiled), []byte("console.log(42)"), FilePermission)
			}
			return diagnostics, exitCode, nil
		}
		return runOutput, 0, nil
	}
}

func TestScriptBackendTypeScript(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		fs := NewMockFileSystem()
		runner := &MockCommandRunner{}
		runner.handler = tscHandler(fs, 0, "", true, "42\n")
		backend := newTestScriptBackend(t, runner, fs)
		rep := &recordingReporter{}

		err := backend.Execute(context.Background(), "const n: number = 42; console.log(n)", classifier.TypeScript, rep)
		require.NoError(t, err)

		assert.Equal(t, []runstate.OutputEvent{runstate.Text("42")}, rep.Events())
		assert.Contains(t, rep.Statuses(), runstate.StatusLoadingPackages)

		tsconfig := fs.Content(filepath.Join(testRoot, TSConfigName))
		assert.Contains(t, tsconfig, `"noImplicitAny": true`)
		assert.Contains(t, tsconfig, `"strict": false`)
		assert.Contains(t, tsconfig, `"target": "ES2020"`)

		compile := runner.Calls("node")[0]
		assert.Equal(t, tscEntry, compile.Args[0])
		assert.Contains(t, strings.Join(compile.Args, " "), "--noImplicitAny true")
		assert.Contains(t, strings.Join(compile.Args, " "), "--module commonjs")

		// Source and compiled files are both removed.
		for _, p := range fs.Paths() {
			assert.False(t, strings.Contains(p, "snippet-"), "leftover %s", p)
		}
	})

	t.Run("RecoveredFromCompilerErrors", func(t *testing.T) {
		fs := NewMockFileSystem()
		runner := &MockCommandRunner{}
		runner.handler = tscHandler(fs, 2, "error TS7006: Parameter 'x' implicitly has an 'any' type.", true, "42\n")
		backend := newTestScriptBackend(t, runner, fs)
		rep := &recordingReporter{}

		err := backend.Execute(context.Background(), "function f(x) { return x }; console.log(42)", classifier.TypeScript, rep)
		require.NoError(t, err)
		assert.Equal(t, []runstate.OutputEvent{runstate.Text("42")}, rep.Events())
	})

	t.Run("CompilationFailed", func(t *testing.T) {
		fs := NewMockFileSystem()
		runner := &MockCommandRunner{}
		runner.handler = tscHandler(fs, 1, "error TS1005: ';' expected.\n", false, "")
		backend := newTestScriptBackend(t, runner, fs)
		rep := &recordingReporter{}

		err := backend.Execute(context.Background(), "let =", classifier.TypeScript, rep)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCompilationFailed)
		assert.Equal(t, "error TS1005: ';' expected.", err.Error())
		assert.Empty(t, rep.Events())
		assert.Len(t, runner.Calls("node"), 1, "compiled output must not be executed")
	})
}

func TestScriptBackendBoot(t *testing.T) {
	t.Run("ConcurrentFirstUseProvisionsOnce", func(t *testing.T) {
		var provisions atomic.Int32
		runner := &MockCommandRunner{handler: func(spec ProcessSpec) (string, int, error) {
			if spec.Name == "npm" {
				provisions.Add(1)
				time.Sleep(20 * time.Millisecond)
				return "", 0, nil
			}
			return "ok\n", 0, nil
		}}
		backend := newTestScriptBackend(t, runner, NewMockFileSystem())

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				return backend.Execute(context.Background(), "console.log('ok')", classifier.JavaScript, &recordingReporter{})
			})
		}
		require.NoError(t, g.Wait())

		assert.Equal(t, int32(1), provisions.Load())
		npm := runner.Calls("npm")
		require.Len(t, npm, 1)
		assert.Equal(t, []string{"install", "--no-audit", "--no-fund", "--no-save", "typescript", "@types/node"}, npm[0].Args)
	})

	t.Run("ProvisioningFailureDoesNotAbortBoot", func(t *testing.T) {
		runner := &MockCommandRunner{handler: func(spec ProcessSpec) (string, int, error) {
			if spec.Name == "npm" {
				return "npm ERR! network", 1, nil
			}
			return "still runs\n", 0, nil
		}}
		backend := newTestScriptBackend(t, runner, NewMockFileSystem())
		rep := &recordingReporter{}

		require.NoError(t, backend.Execute(context.Background(), "1", classifier.JavaScript, rep))
		assert.Equal(t, []runstate.OutputEvent{runstate.Text("still runs")}, rep.Events())
		assert.Equal(t, []runstate.Status{runstate.StatusLoadingPackages}, rep.Statuses())
	})

	t.Run("BootFailureIsMemoized", func(t *testing.T) {
		fs := NewMockFileSystem()
		fs.mkdirAllErrors[filepath.Join(testRoot, ModulesDir)] = errors.New("read-only file system")
		runner := &MockCommandRunner{handler: nodeHandler("x\n", 0)}
		backend := newTestScriptBackend(t, runner, fs)

		for i := 0; i < 2; i++ {
			err := backend.Execute(context.Background(), "1", classifier.JavaScript, &recordingReporter{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBootFailed)
			assert.Equal(t, "script sandbox failed to initialize", err.Error())
		}
		assert.Equal(t, 1, fs.mkdirCalls)
		assert.Empty(t, runner.Calls(""))
	})

	t.Run("ReadySkipsLoadingStatus", func(t *testing.T) {
		runner := &MockCommandRunner{handler: nodeHandler("x\n", 0)}
		backend := newTestScriptBackend(t, runner, NewMockFileSystem())

		require.NoError(t, backend.Execute(context.Background(), "1", classifier.JavaScript, &recordingReporter{}))

		rep := &recordingReporter{}
		require.NoError(t, backend.Execute(context.Background(), "1", classifier.JavaScript, rep))
		assert.Empty(t, rep.Statuses())
	})
}

func TestScriptBackendRejectsPython(t *testing.T) {
	runner := &MockCommandRunner{}
	backend := newTestScriptBackend(t, runner, NewMockFileSystem())

	err := backend.Execute(context.Background(), "print(1)", classifier.Python, &recordingReporter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.Empty(t, runner.Calls(""))
}

func TestCompilerFlags(t *testing.T) {
	flags := compilerFlags()
	require.Len(t, flags, 2*len(compilerOptions))
	assert.Equal(t, []string{"--esModuleInterop", "true"}, flags[:2])
	assert.Contains(t, strings.Join(flags, " "), "--strict false")
}
