// Package recorder runs capture sessions for the camlog binary.
//
// A Recorder owns at most one capture.Session at a time. Each session gets a
// fresh journal file, a session metadata record, and hooks that feed worker
// transitions and accepted records into the metrics registry and the event
// bus. Restart replaces the running session, which is how a changed cameras
// file or a remote restart request takes effect.
package recorder
