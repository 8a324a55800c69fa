// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and CODECELL_* environment variables. It
// covers server transport, logging, the Python interpreter and the
// JavaScript/TypeScript sandbox.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Python runtime: %s\n", cfg.Python.Runtime)
package config
