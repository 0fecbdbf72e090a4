// Package logging provides the structured logging system used by every
// vouch component, built on Go's standard slog package.
//
// Log entries carry a subsystem tag so token-acquisition traffic can be
// filtered per concern:
//
//   - **Authority**: endpoint discovery and validation
//   - **TokenCache**: cache save/lookup/delete traffic
//   - **Broker**: broker parameter projection and result handling
//   - **Request**: orchestrated acquisition flows
//   - **Persist**: the file persistence collaborator
//   - **Config**: configuration loading
//
// # Usage
//
//	import "vouch/pkg/logging"
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("Request", "Silent acquisition for client=%s", clientID)
//	logging.Error("Authority", err, "Discovery failed for %s", authority)
//
// # PII handling
//
// Account identifiers and usernames are personal data. Call sites that
// need them for diagnostics log through DebugPii with both a full and a
// scrubbed rendering; the full rendering is suppressed unless EnablePii
// was called, which should only happen in development setups.
//
// The logging system is safe for concurrent use from multiple goroutines.
package logging
