package sandbox

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/isdmx/codecell/runstate"
)

// MockCommandRunner implements CommandRunner for testing
type MockCommandRunner struct {
	mu      sync.Mutex
	calls   []ProcessSpec
	handler func(spec ProcessSpec) (output string, exitCode int, err error)
}

func (m *MockCommandRunner) Spawn(_ context.Context, spec ProcessSpec) (Process, error) {
	m.mu.Lock()
	m.calls = append(m.calls, spec)
	m.mu.Unlock()

	var (
		output   string
		exitCode int
		err      error
	)
	if m.handler != nil {
		output, exitCode, err = m.handler(spec)
	}
	if err != nil {
		return nil, err
	}
	return &MockProcess{output: strings.NewReader(output), exitCode: exitCode}, nil
}

// Calls returns the specs spawned so far, optionally filtered by executable name.
func (m *MockCommandRunner) Calls(name string) []ProcessSpec {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ProcessSpec
	for _, spec := range m.calls {
		if name == "" || spec.Name == name {
			out = append(out, spec)
		}
	}
	return out
}

// MockProcess implements Process for testing
type MockProcess struct {
	stdin    nopWriteCloser
	output   io.Reader
	exitCode int
}

func (p *MockProcess) Stdin() io.WriteCloser { return &p.stdin }

func (p *MockProcess) Output() io.Reader { return p.output }

func (p *MockProcess) Wait() (int, error) { return p.exitCode, nil }

type nopWriteCloser struct {
	bytes.Buffer
}

func (*nopWriteCloser) Close() error { return nil }

// MockFileSystem implements FileSystem in memory for testing
type MockFileSystem struct {
	mu             sync.Mutex
	files          map[string][]byte
	dirs           map[string]bool
	mkdirCalls     int
	mkdirAllErrors map[string]error
	writeErrors    map[string]error
	removeErrors   map[string]error
}

func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files:          make(map[string][]byte),
		dirs:           make(map[string]bool),
		mkdirAllErrors: make(map[string]error),
		writeErrors:    make(map[string]error),
		removeErrors:   make(map[string]error),
	}
}

func (m *MockFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirCalls++
	if err, exists := m.mkdirAllErrors[path]; exists {
		return err
	}
	m.dirs[path] = true
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, exists := m.writeErrors[filename]; exists {
		return err
	}
	m.files[filename] = append([]byte(nil), data...)
	return nil
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, exists := m.files[filename]
	if !exists {
		return nil, &fs.PathError{Op: "open", Path: filename, Err: fs.ErrNotExist}
	}
	return data, nil
}

func (m *MockFileSystem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, exists := m.removeErrors[path]; exists {
		return err
	}
	if _, exists := m.files[path]; !exists {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrNotExist}
	}
	delete(m.files, path)
	return nil
}

func (m *MockFileSystem) FileExists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.files[path]
	return exists, nil
}

func (m *MockFileSystem) Has(path string) bool {
	ok, _ := m.FileExists(path)
	return ok
}

func (m *MockFileSystem) Content(path string) string {
	data, _ := m.ReadFile(path)
	return string(data)
}

// Paths returns every stored file path.
func (m *MockFileSystem) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	return paths
}

// recordingReporter implements Reporter for testing
type recordingReporter struct {
	mu       sync.Mutex
	statuses []runstate.Status
	events   []runstate.OutputEvent
}

func (r *recordingReporter) SetStatus(status runstate.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingReporter) Emit(event runstate.OutputEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingReporter) Events() []runstate.OutputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runstate.OutputEvent(nil), r.events...)
}

func (r *recordingReporter) Statuses() []runstate.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runstate.Status(nil), r.statuses...)
}
