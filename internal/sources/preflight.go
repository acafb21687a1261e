package sources

import (
	"errors"
	"fmt"
	"os"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/pkg/linuxav/v4l2"
)

// probeDevice is replaced in tests.
var probeDevice = v4l2.Probe

// checkDevice fails with ErrDeviceUnavailable unless path is a V4L2 node
// that can capture. Without V4L2 only the path's existence is checked.
func checkDevice(path string) error {
	dev, err := probeDevice(path)
	switch {
	case errors.Is(err, v4l2.ErrUnsupported):
		if _, statErr := os.Stat(path); statErr != nil {
			return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, statErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	case !dev.Capture:
		return fmt.Errorf("%w: %s (%s) has no video capture", capture.ErrDeviceUnavailable, path, dev.Name)
	}
	return nil
}
