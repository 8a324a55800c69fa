package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRealCommandRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	runner := RealCommandRunner{}

	t.Run("CombinedOutputAndExitCode", func(t *testing.T) {
		output, exitCode, err := RunCommand(context.Background(), runner, ProcessSpec{
			Name: "sh",
			Args: []string{"-c", `echo "out $GREETING"; echo err 1>&2; exit 3`},
			Env:  map[string]string{"GREETING": "hello"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, exitCode)
		assert.Contains(t, output, "out hello")
		assert.Contains(t, output, "err")
	})

	t.Run("WorkingDirectory", func(t *testing.T) {
		dir := t.TempDir()
		output, exitCode, err := RunCommand(context.Background(), runner, ProcessSpec{
			Name: "sh",
			Args: []string{"-c", "pwd"},
			Dir:  dir,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, exitCode)
		resolved, _ := filepath.EvalSymlinks(dir)
		assert.Contains(t, output, resolved)
	})

	t.Run("MissingExecutable", func(t *testing.T) {
		_, _, err := RunCommand(context.Background(), runner, ProcessSpec{Name: "codecell-no-such-binary"})
		assert.Error(t, err)
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := runner.Spawn(context.Background(), ProcessSpec{})
		assert.Error(t, err)
	})
}

func TestRealFileSystem(t *testing.T) {
	fs := RealFileSystem{}
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.txt")

	require.NoError(t, fs.MkdirAll(filepath.Dir(path), DirPermission))
	require.NoError(t, fs.WriteFile(path, []byte("data"), FilePermission))

	exists, err := fs.FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	require.NoError(t, fs.Remove(path))
	exists, err = fs.FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, fs.Remove(path), os.ErrNotExist)
}

func TestRemoveQuietly(t *testing.T) {
	fs := NewMockFileSystem()
	require.NoError(t, fs.WriteFile("/a", []byte("1"), FilePermission))
	require.NoError(t, fs.WriteFile("/b", []byte("2"), FilePermission))
	fs.removeErrors["/b"] = errors.New("busy")

	assert.NotPanics(t, func() {
		removeQuietly(zaptest.NewLogger(t), fs, "/a", "/b", "/missing")
	})
	assert.False(t, fs.Has("/a"))
	assert.True(t, fs.Has("/b"))
}

func TestRunError(t *testing.T) {
	err := &RunError{Op: "compile", Msg: "error TS1005", Err: ErrCompilationFailed}
	assert.Equal(t, "error TS1005", err.Error())
	assert.ErrorIs(t, err, ErrCompilationFailed)
	assert.Equal(t, "compile", Operation(err))

	bare := &RunError{Op: "spawn", Err: ErrProcessFailed}
	assert.Equal(t, "spawn: process execution failed", bare.Error())

	assert.Equal(t, "unknown", Operation(errors.New("plain")))
}
