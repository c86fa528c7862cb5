// Package services defines shared utilities consumed by the upload
// coordinator, the backend client, and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp upload IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and the Kind taxonomy
//     that decides whether a failed request is worth following up by polling.
//
// Use these helpers when wiring new backend calls so retry decisions stay
// uniform across the client.
package services
