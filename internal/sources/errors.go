package sources

import "errors"

var (
	// ErrBackendUnavailable is returned when the selected backend is not compiled in.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrUnknownBackend is returned for a backend name other than ffmpeg or gstreamer.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrUnknownPlatform is returned when the platform cannot be resolved.
	ErrUnknownPlatform = errors.New("unknown platform")
)
