// Package main hosts the crease CLI entrypoint and command graph.
//
// The Cobra-based command tree covers account management, video uploads,
// result inspection, training plans and comparisons, configuration
// scaffolding, and the long-running `crease run` daemon. Upload commands
// delegate to a running daemon through its local status API when one
// answers; otherwise they host the upload coordinator in-process for the
// lifetime of the command.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
