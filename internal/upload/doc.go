// Package upload delivers one analysis upload at a time and resolves it with
// the backend's analysis payload.
//
// The Coordinator persists every attempt in the uploadstore single-row slot,
// starts the direct multipart request, and falls back to polling the results
// endpoint when the host is backgrounded, the network drops, or the backend
// answers with a job id. Each attempt is represented by an Outcome that
// settles exactly once, so late responses from an abandoned path are ignored.
//
// A later process can pick up a persisted attempt with Resume or
// WaitForOutcome; polling then continues until the result arrives or the
// attempt exceeds its absolute time budget measured from StartTime.
package upload
