// Package notifications publishes upload outcomes to ntfy.
//
// The daemon calls Publish when an upload settles so a user who sent the
// upload to the background hears about the finished analysis without polling
// `crease status`. When no topic is configured NewService returns a no-op
// implementation.
package notifications
