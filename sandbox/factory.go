package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/codecell/config"
	"github.com/isdmx/codecell/monitor"
)

// Backends holds one boot-once backend per sandbox family. It is created
// once per process and passed to the dispatcher.
type Backends struct {
	Python Backend
	Script Backend
}

// NewBackends creates the backends selected by the configuration
func NewBackends(logger *zap.Logger, cfg *config.Config, metrics *monitor.Metrics) (*Backends, error) {
	script, err := NewScriptBackend(logger, cfg.Script, WithScriptMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create script backend: %w", err)
	}

	return &Backends{
		Python: NewPythonBackend(logger, cfg.Python, WithPythonMetrics(metrics)),
		Script: script,
	}, nil
}

// Close releases resources held by backends that support it.
func (b *Backends) Close(ctx context.Context) {
	for _, backend := range []Backend{b.Python, b.Script} {
		if closer, ok := backend.(interface{ Close(context.Context) }); ok {
			closer.Close(ctx)
		}
	}
}
