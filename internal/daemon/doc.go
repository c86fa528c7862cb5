// Package daemon coordinates the long-running crease process.
//
// It wires configuration, the upload store, the analysis client, the stored
// session, the lifecycle hub and the upload coordinator into a single
// lifecycle with flock-based locking so only one process drives uploads at a
// time. The daemon resumes a persisted upload on start, feeds lifecycle
// sources (signals, udev netlink) into the coordinator, and serves the local
// status API.
//
// Keep orchestration logic here: upload state transitions live in the upload
// package while the daemon focuses on startup, shutdown, and wiring.
package daemon
