// Package dispatcher routes classified snippets to their sandbox backend
// and drives each run's record in the run tracker from queued to exactly
// one terminal status.
//
// Usage:
//
//	d := dispatcher.New(logger, tracker, backends, metrics, tracer)
//	run, err := d.RunSnippet(ctx, "```python\nprint(1)\n```")
package dispatcher
