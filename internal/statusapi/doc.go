// Package statusapi exposes the running daemon over a small local HTTP API.
//
// The server reports daemon and upload state, cancels the tracked upload, and
// accepts manual lifecycle changes. Client is what the CLI uses to reach it.
package statusapi
