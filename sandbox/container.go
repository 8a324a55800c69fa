package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/codecell/config"
)

// guestRoot is where the script root is mounted inside engine containers.
const guestRoot = "/workspace"

// Container is the environment the script sandbox runs its commands in.
// Commands resolve relative paths against the sandbox root.
type Container interface {
	// Start prepares the environment. It is called once per boot.
	Start(ctx context.Context) error
	// Exec returns the spec for a command inside the running sandbox.
	Exec(name string, args []string, env map[string]string) ProcessSpec
	// Setup returns the spec for a one-off provisioning command. Unlike Exec
	// it may reach the network.
	Setup(name string, args []string) ProcessSpec
}

// NewContainer creates the Container selected by cfg.Backend
func NewContainer(logger *zap.Logger, cfg config.ScriptConfig, cmdRunner CommandRunner) (Container, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return &LocalContainer{logger: logger, root: cfg.RootDir}, nil
	case config.BackendDocker, config.BackendPodman:
		return &EngineContainer{
			logger:    logger,
			engine:    cfg.Backend,
			root:      cfg.RootDir,
			image:     cfg.Image,
			network:   cfg.NetworkEnabled,
			name:      fmt.Sprintf("codecell-script-%d", time.Now().UnixNano()),
			cmdRunner: cmdRunner,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// LocalContainer runs commands directly on the host (for development only)
type LocalContainer struct {
	logger *zap.Logger
	root   string
}

// Start implements Container
func (l *LocalContainer) Start(context.Context) error {
	l.logger.Warn("script sandbox runs on the host without isolation", zap.String("root", l.root))
	return nil
}

// Exec implements Container
func (l *LocalContainer) Exec(name string, args []string, env map[string]string) ProcessSpec {
	return ProcessSpec{Name: name, Args: args, Env: env, Dir: l.root}
}

// Setup implements Container
func (l *LocalContainer) Setup(name string, args []string) ProcessSpec {
	return ProcessSpec{Name: name, Args: args, Dir: l.root}
}

// EngineContainer keeps one long-lived Docker or Podman container with the
// sandbox root mounted at /workspace and runs commands in it with exec.
type EngineContainer struct {
	logger    *zap.Logger
	engine    string
	root      string
	image     string
	network   bool
	name      string
	cmdRunner CommandRunner
}

// Name returns the container name.
func (e *EngineContainer) Name() string {
	return e.name
}

func (e *EngineContainer) volume() string {
	volume := fmt.Sprintf("%s:%s", e.root, guestRoot)
	if e.engine == config.BackendPodman {
		volume += ":Z" // Relabel for SELinux hosts
	}
	return volume
}

// Start implements Container
func (e *EngineContainer) Start(ctx context.Context) error {
	args := []string{
		"run", "-d",
		"--name", e.name,
		"--rm", // Remove container when stopped
		"-v", e.volume(),
		"--workdir", guestRoot,
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL", // Drop all capabilities
	}
	if e.network {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}
	args = append(args, e.image, "sleep", "infinity")

	e.logger.Info("starting script sandbox container",
		zap.String("engine", e.engine),
		zap.String("container", e.name),
		zap.String("image", e.image),
		zap.Bool("network", e.network),
	)

	output, exitCode, err := RunCommand(ctx, e.cmdRunner, ProcessSpec{Name: e.engine, Args: args})
	if err != nil {
		return fmt.Errorf("failed to run %s: %w", e.engine, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s run exited with code %d: %s", e.engine, exitCode, strings.TrimSpace(output))
	}
	return nil
}

// Exec implements Container
func (e *EngineContainer) Exec(name string, args []string, env map[string]string) ProcessSpec {
	cmdArgs := []string{"exec", "-i", "--workdir", guestRoot}
	for _, kv := range envList(env) {
		cmdArgs = append(cmdArgs, "-e", kv)
	}
	cmdArgs = append(cmdArgs, e.name, name)
	cmdArgs = append(cmdArgs, args...)
	return ProcessSpec{Name: e.engine, Args: cmdArgs}
}

// Setup implements Container
func (e *EngineContainer) Setup(name string, args []string) ProcessSpec {
	cmdArgs := []string{
		"run", "--rm",
		"-v", e.volume(),
		"--workdir", guestRoot,
		"--security-opt", "no-new-privileges:true",
		e.image, name,
	}
	cmdArgs = append(cmdArgs, args...)
	return ProcessSpec{Name: e.engine, Args: cmdArgs}
}

// Stop removes the container. Errors are logged.
func (e *EngineContainer) Stop(ctx context.Context) {
	output, exitCode, err := RunCommand(ctx, e.cmdRunner, ProcessSpec{Name: e.engine, Args: []string{"stop", e.name}})
	if err != nil || exitCode != 0 {
		e.logger.Warn("failed to stop container",
			zap.String("container", e.name),
			zap.String("output", strings.TrimSpace(output)),
			zap.Error(err),
		)
	}
}
