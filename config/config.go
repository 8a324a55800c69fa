package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Python  PythonConfig  `mapstructure:"python"`
	Script  ScriptConfig  `mapstructure:"script"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport   string `mapstructure:"transport"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// PythonConfig holds the Python interpreter configuration
type PythonConfig struct {
	Runtime         string     `mapstructure:"runtime"`
	Binary          string     `mapstructure:"binary"`
	WasmPath        string     `mapstructure:"wasm_path"`
	PipBinary       string     `mapstructure:"pip_binary"`
	PackagesDir     string     `mapstructure:"packages_dir"`
	InstallPackages bool       `mapstructure:"install_packages"`
	Plot            PlotConfig `mapstructure:"plot"`
}

// PlotConfig holds limits applied to rendered figures
type PlotConfig struct {
	MaxPixels   int `mapstructure:"max_pixels"`
	FallbackDPI int `mapstructure:"fallback_dpi"`
}

// ScriptConfig holds the JavaScript/TypeScript sandbox configuration
type ScriptConfig struct {
	Backend           string   `mapstructure:"backend"`
	RootDir           string   `mapstructure:"root_dir"`
	Image             string   `mapstructure:"image"`
	NodeBinary        string   `mapstructure:"node_binary"`
	NPMBinary         string   `mapstructure:"npm_binary"`
	ProvisionPackages []string `mapstructure:"provision_packages"`
	NetworkEnabled    bool     `mapstructure:"network_enabled"`
}

// Python runtimes
const (
	RuntimeProcess = "process"
	RuntimeWasm    = "wasm"
)

// Script sandbox backends
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
	BackendPodman = "podman"
)

// New loads and validates the application configuration from config.yaml
// in the working directory or ./config.
func New() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	return unmarshal(v)
}

// Load reads the configuration from an explicit file path.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("CODECELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set default values
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 0)
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	// Python defaults
	v.SetDefault("python.runtime", RuntimeProcess)
	v.SetDefault("python.binary", "python3")
	v.SetDefault("python.wasm_path", "")
	v.SetDefault("python.pip_binary", "") // empty runs "<binary> -m pip"
	v.SetDefault("python.packages_dir", filepath.Join(".codecell", "python", "packages"))
	v.SetDefault("python.install_packages", true)
	v.SetDefault("python.plot.max_pixels", 25_000_000)
	v.SetDefault("python.plot.fallback_dpi", 100)

	// Script defaults
	v.SetDefault("script.backend", BackendLocal)
	v.SetDefault("script.root_dir", filepath.Join(os.TempDir(), "codecell-script"))
	v.SetDefault("script.image", "node:20-alpine")
	v.SetDefault("script.node_binary", "node")
	v.SetDefault("script.npm_binary", "npm")
	v.SetDefault("script.provision_packages", []string{"typescript", "@types/node"})
	v.SetDefault("script.network_enabled", false)

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	if c.Server.MetricsPort < 0 {
		return fmt.Errorf("server.metrics_port must not be negative, got: %d", c.Server.MetricsPort)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Python.Runtime {
	case RuntimeProcess:
		if c.Python.Binary == "" {
			return fmt.Errorf("python.binary is required for the process runtime")
		}
	case RuntimeWasm:
		if c.Python.WasmPath == "" {
			return fmt.Errorf("python.wasm_path is required for the wasm runtime")
		}
	default:
		return fmt.Errorf("invalid python.runtime: %s, must be 'process' or 'wasm'", c.Python.Runtime)
	}

	if c.Python.InstallPackages && c.Python.PipBinary == "" && c.Python.Binary == "" {
		return fmt.Errorf("python.binary or python.pip_binary is required to install packages")
	}

	if c.Python.Plot.MaxPixels <= 0 {
		return fmt.Errorf("python.plot.max_pixels must be positive, got: %d", c.Python.Plot.MaxPixels)
	}

	if c.Python.Plot.FallbackDPI <= 0 {
		return fmt.Errorf("python.plot.fallback_dpi must be positive, got: %d", c.Python.Plot.FallbackDPI)
	}

	supportedBackends := map[string]bool{
		BackendLocal:  true,
		BackendDocker: true,
		BackendPodman: true,
	}
	if !supportedBackends[c.Script.Backend] {
		return fmt.Errorf("unsupported script.backend: %s", c.Script.Backend)
	}

	if c.Script.RootDir == "" {
		return fmt.Errorf("script.root_dir is required")
	}

	if c.Script.NodeBinary == "" {
		return fmt.Errorf("script.node_binary is required")
	}

	return nil
}
