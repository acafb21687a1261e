package capture

import "errors"

var (
	// ErrDeviceUnavailable is returned when a camera cannot be opened.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrSourceClosed is returned by Pull once a source is closed or its pipeline ended.
	ErrSourceClosed = errors.New("source closed")
	// ErrWriteFailed is returned when a record cannot be appended.
	ErrWriteFailed = errors.New("write failed")
	// ErrJournalOpenFailed is returned when the session journal cannot be created.
	ErrJournalOpenFailed = errors.New("journal open failed")
	// ErrDuplicateCamera is returned when a camera index is requested twice in one session.
	ErrDuplicateCamera = errors.New("duplicate camera index")
)
