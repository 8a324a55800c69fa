package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codecell/classifier"
	"github.com/isdmx/codecell/config"
	"github.com/isdmx/codecell/monitor"
	"github.com/isdmx/codecell/runstate"
)

// Script sandbox layout
const (
	ManifestName = "package.json"
	ModulesDir   = "node_modules"
	TSConfigName = "tsconfig.json"

	emptyManifest = `{"name":"codecell-sandbox","private":true,"dependencies":{}}` + "\n"
	tscEntry      = "node_modules/typescript/bin/tsc"
	maxLineBytes  = 16 * 1024 * 1024
)

// compilerOptions is written to tsconfig.json and passed to tsc as flags.
var compilerOptions = map[string]any{
	"target":          "ES2020",
	"module":          "commonjs",
	"strict":          false,
	"noImplicitAny":   true,
	"skipLibCheck":    true,
	"esModuleInterop": true,
}

// nodeEnv suppresses colorized output.
var nodeEnv = map[string]string{
	"NO_COLOR":    "1",
	"FORCE_COLOR": "0",
}

// ScriptBackend runs JavaScript and TypeScript in a shared sandbox.
type ScriptBackend struct {
	logger    *zap.Logger
	config    config.ScriptConfig
	container Container
	cmdRunner CommandRunner
	fs        FileSystem
	metrics   *monitor.Metrics
	cell      *BootCell[*scriptInstance]
	seq       atomic.Uint64
}

type scriptInstance struct {
	provisionErr error
}

// ScriptBackendOption defines a functional option for ScriptBackend
type ScriptBackendOption func(*ScriptBackend)

// WithScriptCommandRunner sets the CommandRunner for ScriptBackend
func WithScriptCommandRunner(cmdRunner CommandRunner) ScriptBackendOption {
	return func(s *ScriptBackend) {
		s.cmdRunner = cmdRunner
	}
}

// WithScriptFileSystem sets the FileSystem for ScriptBackend
func WithScriptFileSystem(fs FileSystem) ScriptBackendOption {
	return func(s *ScriptBackend) {
		s.fs = fs
	}
}

// WithScriptContainer sets the Container for ScriptBackend
func WithScriptContainer(container Container) ScriptBackendOption {
	return func(s *ScriptBackend) {
		s.container = container
	}
}

// WithScriptMetrics sets the metrics sink for ScriptBackend
func WithScriptMetrics(metrics *monitor.Metrics) ScriptBackendOption {
	return func(s *ScriptBackend) {
		s.metrics = metrics
	}
}

// NewScriptBackend creates a ScriptBackend. The container defaults to the
// one selected by cfg.Backend.
func NewScriptBackend(logger *zap.Logger, cfg config.ScriptConfig, opts ...ScriptBackendOption) (*ScriptBackend, error) {
	s := &ScriptBackend{
		logger:    logger.Named("script"),
		config:    cfg,
		cmdRunner: &RealCommandRunner{}, // Default implementation
		fs:        &RealFileSystem{},    // Default implementation
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	if s.container == nil {
		container, err := NewContainer(s.logger, cfg, s.cmdRunner)
		if err != nil {
			return nil, err
		}
		s.container = container
	}

	s.cell = NewBootCell(s.boot, func(err error) {
		s.metrics.RecordBoot("script", err)
	})

	return s, nil
}

// boot lays out the sandbox root, starts the container and provisions the
// compiler toolchain once. A provisioning failure is recorded on the
// instance and does not fail the boot.
func (s *ScriptBackend) boot(ctx context.Context) (*scriptInstance, error) {
	root := s.config.RootDir
	s.logger.Info("booting script sandbox", zap.String("root", root), zap.String("backend", s.config.Backend))

	if err := s.fs.MkdirAll(filepath.Join(root, ModulesDir), DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	if err := s.fs.WriteFile(filepath.Join(root, ManifestName), []byte(emptyManifest), FilePermission); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", ManifestName, err)
	}

	if err := s.container.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}

	inst := &scriptInstance{provisionErr: s.provision(ctx)}
	if inst.provisionErr != nil {
		s.logger.Error("toolchain provisioning failed", zap.Error(inst.provisionErr))
	}
	return inst, nil
}

func (s *ScriptBackend) provision(ctx context.Context) error {
	if len(s.config.ProvisionPackages) == 0 {
		return nil
	}

	args := append([]string{"install", "--no-audit", "--no-fund", "--no-save"}, s.config.ProvisionPackages...)
	s.logger.Info("provisioning toolchain", zap.Strings("packages", s.config.ProvisionPackages))

	output, exitCode, err := RunCommand(ctx, s.cmdRunner, s.container.Setup(s.config.NPMBinary, args))
	if err != nil {
		return fmt.Errorf("failed to run %s: %w", s.config.NPMBinary, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s install exited with code %d: %s", s.config.NPMBinary, exitCode, strings.TrimSpace(output))
	}
	return nil
}

// Execute implements Backend
func (s *ScriptBackend) Execute(ctx context.Context, code string, lang classifier.Language, rep Reporter) error {
	switch lang {
	case classifier.JavaScript, classifier.TypeScript:
	default:
		return &RunError{
			Op:  "dispatch",
			Msg: fmt.Sprintf("script sandbox cannot run %s code", lang),
			Err: ErrUnsupportedLanguage,
		}
	}

	if !s.cell.Ready() {
		rep.SetStatus(runstate.StatusLoadingPackages)
	}

	inst, err := s.cell.Get(ctx)
	if err != nil {
		s.logger.Debug("script sandbox unavailable", zap.Error(err))
		return &RunError{Op: "boot", Msg: "script sandbox failed to initialize", Err: ErrBootFailed}
	}

	base := s.uniqueName()
	if lang == classifier.TypeScript {
		return s.runTypeScript(ctx, inst, base, code, rep)
	}
	return s.runJavaScript(ctx, base+".js", code, rep)
}

// Close stops the sandbox container if one was started.
func (s *ScriptBackend) Close(ctx context.Context) {
	if !s.cell.Ready() {
		return
	}
	if engine, ok := s.container.(*EngineContainer); ok {
		engine.Stop(ctx)
	}
}

// uniqueName returns a file stem that never collides across concurrent runs.
func (s *ScriptBackend) uniqueName() string {
	return fmt.Sprintf("snippet-%d-%d", time.Now().UnixNano(), s.seq.Add(1))
}

func (s *ScriptBackend) hostPath(name string) string {
	return filepath.Join(s.config.RootDir, name)
}

func (s *ScriptBackend) runJavaScript(ctx context.Context, name, code string, rep Reporter) error {
	path := s.hostPath(name)
	defer removeQuietly(s.logger, s.fs, path)

	if err := s.fs.WriteFile(path, []byte(code), FilePermission); err != nil {
		return &RunError{Op: "write", Msg: fmt.Sprintf("failed to write source file: %v", err), Err: ErrProcessFailed}
	}

	return s.runNode(ctx, name, rep)
}

func (s *ScriptBackend) runTypeScript(ctx context.Context, inst *scriptInstance, base, code string, rep Reporter) error {
	source, compiled := base+".ts", base+".js"
	defer removeQuietly(s.logger, s.fs, s.hostPath(source), s.hostPath(compiled))

	if err := s.fs.WriteFile(s.hostPath(source), []byte(code), FilePermission); err != nil {
		return &RunError{Op: "write", Msg: fmt.Sprintf("failed to write source file: %v", err), Err: ErrCompilationFailed}
	}

	tsconfig, err := json.MarshalIndent(map[string]any{"compilerOptions": compilerOptions}, "", "  ")
	if err != nil {
		return &RunError{Op: "compile", Msg: fmt.Sprintf("failed to encode %s: %v", TSConfigName, err), Err: ErrCompilationFailed}
	}
	if err := s.fs.WriteFile(s.hostPath(TSConfigName), tsconfig, FilePermission); err != nil {
		return &RunError{Op: "compile", Msg: fmt.Sprintf("failed to write %s: %v", TSConfigName, err), Err: ErrCompilationFailed}
	}

	if inst.provisionErr != nil {
		s.logger.Warn("compiling without a provisioned toolchain", zap.Error(inst.provisionErr))
	}

	rep.SetStatus(runstate.StatusLoadingPackages)

	args := append([]string{tscEntry, source}, compilerFlags()...)
	diagnostics, exitCode, err := RunCommand(ctx, s.cmdRunner, s.container.Exec(s.config.NodeBinary, args, nodeEnv))
	if err != nil {
		return &RunError{Op: "compile", Msg: fmt.Sprintf("failed to start the TypeScript compiler: %v", err), Err: ErrCompilationFailed}
	}

	if exitCode != 0 {
		exists, _ := s.fs.FileExists(s.hostPath(compiled))
		if !exists {
			msg := strings.TrimSpace(diagnostics)
			if msg == "" {
				msg = fmt.Sprintf("TypeScript compilation failed with exit code %d", exitCode)
			}
			return &RunError{Op: "compile", Msg: msg, Err: ErrCompilationFailed}
		}
		s.logger.Warn("compiler reported errors but emitted output, continuing",
			zap.Int("exit_code", exitCode),
			zap.String("diagnostics", strings.TrimSpace(diagnostics)),
		)
	}

	if _, err := s.fs.ReadFile(s.hostPath(compiled)); err != nil {
		return &RunError{Op: "compile", Msg: fmt.Sprintf("compiled output is missing: %v", err), Err: ErrCompilationFailed}
	}

	return s.runNode(ctx, compiled, rep)
}

// runNode executes name with node, streaming each output line as a text
// event.
func (s *ScriptBackend) runNode(ctx context.Context, name string, rep Reporter) error {
	proc, err := s.cmdRunner.Spawn(ctx, s.container.Exec(s.config.NodeBinary, []string{name}, nodeEnv))
	if err != nil {
		return &RunError{Op: "spawn", Msg: fmt.Sprintf("failed to start node: %v", err), Err: ErrProcessFailed}
	}
	_ = proc.Stdin().Close()

	emitted := 0
	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		rep.Emit(runstate.Text(scanner.Text()))
		emitted++
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("failed to read node output", zap.Error(err))
		drain(proc.Output())
	}

	exitCode, err := proc.Wait()
	if err != nil {
		return &RunError{Op: "execute", Msg: fmt.Sprintf("node did not exit cleanly: %v", err), Err: ErrProcessFailed}
	}
	if exitCode != 0 {
		return &RunError{Op: "execute", Msg: fmt.Sprintf("Execution failed with exit code %d", exitCode), Err: ErrProcessFailed}
	}

	if emitted == 0 {
		rep.Emit(runstate.Text(NoOutputMessage))
	}
	return nil
}

// compilerFlags renders compilerOptions as tsc command-line flags.
func compilerFlags() []string {
	keys := make([]string, 0, len(compilerOptions))
	for k := range compilerOptions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flags := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		flags = append(flags, "--"+k, fmt.Sprint(compilerOptions[k]))
	}
	return flags
}
