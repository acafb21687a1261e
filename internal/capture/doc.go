// Package capture implements the camera fan-out core: one worker per camera
// pulls encoded frames from a Source, derives a frame identifier, and appends
// a Record to a Sink bound to a journal shared by every worker of a session.
//
// The package knows nothing about media pipelines or journal formats. Both
// are supplied through the Source/SourceOpener and Journal/JournalOpener
// interfaces, which keeps the worker state machine testable with fakes.
//
// Lifecycle:
//
//	sup := capture.NewSupervisor(capture.SupervisorOptions{
//		OpenJournal: openJournal,
//		OpenSource:  openSource,
//	})
//	session, err := sup.Start(ctx, []capture.CameraIndex{0, 1})
//	if err != nil {
//		return err // journal could not be opened, nothing started
//	}
//	defer session.Stop()
//	session.Wait(ctx)
//
// Worker states move strictly forward: starting, running, draining, stopped.
// Cancellation of the session context is observed within one idle-wait
// interval; Stop is idempotent and the journal is closed exactly once.
package capture
