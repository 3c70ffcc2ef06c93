// Package shutdown provides graceful shutdown for ConcordKV.
//
// This package handles process termination signals:
//
//   - Signal handling (SIGINT, SIGTERM)
//   - A deadline context, expiring after the handler's timeout, passed to hooks
//   - Cleanup callback registration
//   - Shutdown coordination
//
// Usage:
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return engine.Close() })
//	err := h.Wait() // blocks until a signal, then runs hooks in reverse order
package shutdown
