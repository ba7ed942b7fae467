// Package app wires the license components from configuration.
//
// NewApplication builds the store, client, gate, manager and health checker
// that both the CLI and the daemon use. Serve runs the loopback daemon:
//
//   - the HTTP API and /metrics
//   - the websocket hub pushing license status changes
//   - the cache file watcher reloading the gate on external edits
//   - the pending deactivation sync loop
//
// Serve returns when its context is cancelled, after the HTTP server has
// drained within Server.ShutdownTimeout. Close flushes telemetry. Neither
// calls os.Exit; the command decides how to exit.
package app
