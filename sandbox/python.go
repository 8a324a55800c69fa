package sandbox

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/isdmx/codecell/classifier"
	"github.com/isdmx/codecell/config"
	"github.com/isdmx/codecell/monitor"
	"github.com/isdmx/codecell/runstate"
)

//go:embed driver.py
var pythonDriver string

// Driver protocol message types. Requests and replies are JSON objects,
// one per line.
const (
	msgExec    = "exec"
	msgProbe   = "probe"
	msgReady   = "ready"
	msgLine    = "line"
	msgDone    = "done"
	msgError   = "error"
	msgMissing = "missing"
)

type driverRequest struct {
	Type    string   `json:"type"`
	Code    string   `json:"code,omitempty"`
	Modules []string `json:"modules,omitempty"`
}

type driverMessage struct {
	Type    string   `json:"type"`
	Data    string   `json:"data,omitempty"`
	Message string   `json:"message,omitempty"`
	Modules []string `json:"modules,omitempty"`
}

var errInterpreterExited = errors.New("python interpreter exited")

// pythonSession is the host side of one running driver. Once the driver
// stops answering the session is dead for good; it is only touched under
// PythonBackend.execMu.
type pythonSession struct {
	logger *zap.Logger
	stdin  io.WriteCloser
	reader *bufio.Reader
	dead   bool
}

func (s *pythonSession) send(req driverRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to interpreter: %w", err)
	}
	return nil
}

// next returns the next protocol message, skipping anything else the
// interpreter printed on its protocol stream.
func (s *pythonSession) next() (driverMessage, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			var msg driverMessage
			if jsonErr := json.Unmarshal([]byte(line), &msg); jsonErr == nil && msg.Type != "" {
				return msg, nil
			}
			s.logger.Debug("ignoring non-protocol interpreter output", zap.String("line", line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return driverMessage{}, errInterpreterExited
			}
			return driverMessage{}, err
		}
	}
}

// PythonBackend runs Python code in one shared interpreter session.
type PythonBackend struct {
	logger    *zap.Logger
	config    config.PythonConfig
	launcher  InterpreterLauncher
	cmdRunner CommandRunner
	fs        FileSystem
	metrics   *monitor.Metrics
	plot      PlotAdapter
	cell      *BootCell[*pythonSession]

	// execMu serializes runs; the session executes one cell at a time.
	execMu sync.Mutex
}

// PythonBackendOption defines a functional option for PythonBackend
type PythonBackendOption func(*PythonBackend)

// WithPythonLauncher sets the InterpreterLauncher for PythonBackend
func WithPythonLauncher(launcher InterpreterLauncher) PythonBackendOption {
	return func(p *PythonBackend) {
		p.launcher = launcher
	}
}

// WithPythonCommandRunner sets the CommandRunner used for package installs
func WithPythonCommandRunner(cmdRunner CommandRunner) PythonBackendOption {
	return func(p *PythonBackend) {
		p.cmdRunner = cmdRunner
	}
}

// WithPythonFileSystem sets the FileSystem for PythonBackend
func WithPythonFileSystem(fs FileSystem) PythonBackendOption {
	return func(p *PythonBackend) {
		p.fs = fs
	}
}

// WithPythonMetrics sets the metrics sink for PythonBackend
func WithPythonMetrics(metrics *monitor.Metrics) PythonBackendOption {
	return func(p *PythonBackend) {
		p.metrics = metrics
	}
}

// NewPythonBackend creates a PythonBackend. The launcher defaults to the
// one selected by cfg.Runtime.
func NewPythonBackend(logger *zap.Logger, cfg config.PythonConfig, opts ...PythonBackendOption) *PythonBackend {
	p := &PythonBackend{
		logger:    logger.Named("python"),
		config:    cfg,
		cmdRunner: &RealCommandRunner{}, // Default implementation
		fs:        &RealFileSystem{},    // Default implementation
		plot: PlotAdapter{
			MaxPixels:   cfg.Plot.MaxPixels,
			FallbackDPI: cfg.Plot.FallbackDPI,
		},
	}

	// Apply options
	for _, opt := range opts {
		opt(p)
	}

	if p.launcher == nil {
		stderr := &zapio.Writer{Log: p.logger.Named("stderr"), Level: zap.WarnLevel}
		if cfg.Runtime == config.RuntimeWasm {
			p.launcher = NewWasmLauncher(p.logger, cfg.WasmPath, stderr)
		} else {
			p.launcher = &ProcessLauncher{Binary: cfg.Binary, CmdRunner: p.cmdRunner, Stderr: stderr}
		}
	}

	p.cell = NewBootCell(p.boot, func(err error) {
		p.metrics.RecordBoot("python", err)
	})

	return p
}

// Close ends the interpreter session if one was started. It waits for the
// run in flight; later runs fail as if the interpreter had stopped.
func (p *PythonBackend) Close(_ context.Context) {
	if !p.cell.Ready() {
		return
	}
	session, err := p.cell.Get(context.Background())
	if err != nil {
		return
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	if session.dead {
		return
	}
	session.dead = true
	if err := session.stdin.Close(); err != nil {
		p.logger.Debug("failed to close interpreter stdin", zap.Error(err))
	}
}

func (p *PythonBackend) packagesDir() (string, error) {
	return filepath.Abs(p.config.PackagesDir)
}

func (p *PythonBackend) boot(ctx context.Context) (*pythonSession, error) {
	dir, err := p.packagesDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve packages dir: %w", err)
	}
	if err := p.fs.MkdirAll(dir, DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create packages dir: %w", err)
	}

	p.logger.Info("booting python interpreter", zap.String("runtime", p.config.Runtime), zap.String("packages_dir", dir))

	stdin, stdout, err := p.launcher.Launch(ctx, pythonDriver, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to launch interpreter: %w", err)
	}

	session := &pythonSession{logger: p.logger, stdin: stdin, reader: bufio.NewReaderSize(stdout, 64*1024)}
	msg, err := session.next()
	if err != nil {
		return nil, fmt.Errorf("interpreter did not start: %w", err)
	}
	if msg.Type != msgReady {
		return nil, fmt.Errorf("unexpected first message from interpreter: %s", msg.Type)
	}

	return session, nil
}

// Execute implements Backend
func (p *PythonBackend) Execute(ctx context.Context, code string, lang classifier.Language, rep Reporter) error {
	if lang != classifier.Python {
		return &RunError{
			Op:  "dispatch",
			Msg: fmt.Sprintf("python interpreter cannot run %s code", lang),
			Err: ErrUnsupportedLanguage,
		}
	}

	session, err := p.cell.Get(ctx)
	if err != nil {
		p.logger.Debug("python interpreter unavailable", zap.Error(err))
		return errPythonUnavailable()
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	if session.dead {
		return errPythonUnavailable()
	}

	if p.config.InstallPackages {
		if err := p.installMissing(ctx, session, code, rep); err != nil {
			return err
		}
	}

	source := code
	if UsesPlotting(code) {
		preamble, err := p.plot.Preamble()
		if err != nil {
			return &RunError{Op: "execute", Msg: err.Error(), Err: ErrProcessFailed}
		}
		source = preamble + "\n" + code
	}

	if err := session.send(driverRequest{Type: msgExec, Code: source}); err != nil {
		return p.lost(session, err)
	}

	emitted := 0
	for {
		msg, err := session.next()
		if err != nil {
			return p.lost(session, err)
		}

		switch msg.Type {
		case msgLine:
			rep.Emit(classifyLine(msg.Data))
			emitted++
		case msgDone:
			if emitted == 0 {
				rep.Emit(runstate.Text(NoOutputMessage))
			}
			return nil
		case msgError:
			return &RunError{Op: "execute", Msg: msg.Message, Err: ErrProcessFailed}
		default:
			p.logger.Debug("ignoring unexpected driver message", zap.String("type", msg.Type))
		}
	}
}

// installMissing installs every third-party module code imports that the
// interpreter cannot find. An installer that exits nonzero is reported as
// progress text; an installer that cannot run fails the run.
func (p *PythonBackend) installMissing(ctx context.Context, session *pythonSession, code string, rep Reporter) error {
	modules := ScanImports(code)
	if len(modules) == 0 {
		return nil
	}

	missing, err := p.probe(session, modules)
	if err != nil {
		if session.dead {
			return err
		}
		return &RunError{Op: "install", Msg: err.Error(), Err: ErrInstallFailed}
	}

	dir, err := p.packagesDir()
	if err != nil {
		return &RunError{Op: "install", Msg: err.Error(), Err: ErrInstallFailed}
	}

	for _, module := range missing {
		pkg := PackageName(module)
		rep.SetStatus(runstate.StatusLoadingPackages)
		rep.Emit(runstate.Text("Loading " + pkg))

		p.logger.Info("installing package", zap.String("package", pkg), zap.String("module", module))

		output, exitCode, err := RunCommand(ctx, p.cmdRunner, p.pipInstall(dir, pkg))
		if err != nil {
			p.metrics.RecordInstall(false)
			return &RunError{Op: "install", Msg: fmt.Sprintf("failed to install %s: %v", pkg, err), Err: ErrInstallFailed}
		}
		if exitCode != 0 {
			p.metrics.RecordInstall(false)
			p.logger.Warn("package installation failed", zap.String("package", pkg), zap.Int("exit_code", exitCode))
			rep.Emit(runstate.Text(fmt.Sprintf("Failed to install %s: %s", pkg, strings.TrimSpace(output))))
			continue
		}
		p.metrics.RecordInstall(true)
	}

	return nil
}

// pipInstall installs with the configured pip, or with the interpreter's
// own pip module so wheels match its ABI.
func (p *PythonBackend) pipInstall(dir, pkg string) ProcessSpec {
	args := []string{"install", "--target", dir, "--quiet", "--disable-pip-version-check", pkg}
	if p.config.PipBinary != "" {
		return ProcessSpec{Name: p.config.PipBinary, Args: args}
	}
	return ProcessSpec{Name: p.config.Binary, Args: append([]string{"-m", "pip"}, args...)}
}

func (p *PythonBackend) probe(session *pythonSession, modules []string) ([]string, error) {
	if err := session.send(driverRequest{Type: msgProbe, Modules: modules}); err != nil {
		return nil, p.lost(session, err)
	}
	for {
		msg, err := session.next()
		if err != nil {
			return nil, p.lost(session, err)
		}
		switch msg.Type {
		case msgMissing:
			return msg.Modules, nil
		case msgError:
			return nil, errors.New(msg.Message)
		default:
			p.logger.Debug("ignoring unexpected driver message", zap.String("type", msg.Type))
		}
	}
}

// lost marks session dead after the driver stopped answering. The current
// run fails with the cause; later runs report the interpreter as unavailable.
func (p *PythonBackend) lost(session *pythonSession, err error) error {
	session.dead = true
	_ = session.stdin.Close()
	p.logger.Error("python interpreter stopped, later runs will fail", zap.Error(err))
	return &RunError{Op: "execute", Msg: fmt.Sprintf("python interpreter stopped: %v", err), Err: ErrProcessFailed}
}

func errPythonUnavailable() error {
	return &RunError{Op: "boot", Msg: "python interpreter failed to initialize", Err: ErrBootFailed}
}
