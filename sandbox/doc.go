// Package sandbox provides the isolated execution backends for code runs.
//
// Two backend families exist. The PythonBackend drives one long-lived
// Python interpreter session, either as a host process or as a WASI build
// under wazero, and installs missing third-party packages on demand. The
// ScriptBackend runs JavaScript and compiled TypeScript with node inside a
// local, Docker or Podman sandbox rooted at a fixed working directory.
//
// Each family owns its shared resource through a BootCell, so the first run
// boots it and every concurrent or later run awaits the same result.
// Backends report progress through a Reporter and return an error whose
// message is suitable for display when a run fails.
//
// Usage:
//
//	backends, err := sandbox.NewBackends(logger, cfg, metrics)
//	err = backends.Script.Execute(ctx, `console.log("hi")`, classifier.JavaScript, reporter)
package sandbox
