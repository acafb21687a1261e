package sources

import (
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/smazurov/camlog/internal/capture"
)

// Platforms select the capture device family.
const (
	PlatformAuto  = "auto"
	PlatformLinux = "linux"
	PlatformMacOS = "macos"
	PlatformTest  = "test"
)

// Backends select how frames are captured and encoded.
const (
	BackendFFmpeg    = "ffmpeg"
	BackendGStreamer = "gstreamer"
)

// Defaults used when a field is left zero.
const (
	DefaultWidth        = 1280
	DefaultHeight       = 720
	DefaultFPS          = 15
	DefaultBitrate      = 4000
	DefaultStartTimeout = 5 * time.Second
)

// Camera holds per-camera overrides. Zero fields fall back to Config.
type Camera struct {
	Device      string
	PixelFormat string
	Width       int
	Height      int
	FPS         int
	Bitrate     int
	Encoder     string
}

// Config configures every source opened by one opener.
type Config struct {
	Backend  string
	Platform string

	Width       int
	Height      int
	FPS         int
	Bitrate     int // kbit/s
	Encoder     string
	Preset      string
	GOP         int
	PixelFormat string

	// FFmpegOptions are ffmpeg behavior option keys, e.g. low_latency.
	FFmpegOptions []string

	// StartTimeout bounds how long opening waits for the first frame.
	StartTimeout time.Duration

	Cameras map[capture.CameraIndex]Camera
}

// ResolvePlatform maps "auto" to the running OS.
func ResolvePlatform(platform string) (string, error) {
	switch platform {
	case PlatformLinux, PlatformMacOS, PlatformTest:
		return platform, nil
	case "", PlatformAuto:
		switch runtime.GOOS {
		case "linux":
			return PlatformLinux, nil
		case "darwin":
			return PlatformMacOS, nil
		}
		return "", fmt.Errorf("%w: no camera support on %s", ErrUnknownPlatform, runtime.GOOS)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
}

// camera merges per-camera overrides with the shared defaults.
func (c Config) camera(index capture.CameraIndex, platform string) Camera {
	cam := c.Cameras[index]
	if cam.Device == "" {
		if platform == PlatformLinux {
			cam.Device = "/dev/video" + index.String()
		} else {
			cam.Device = strconv.Itoa(int(index))
		}
	}
	if cam.PixelFormat == "" {
		cam.PixelFormat = c.PixelFormat
	}
	cam.Width = firstPositive(cam.Width, c.Width, DefaultWidth)
	cam.Height = firstPositive(cam.Height, c.Height, DefaultHeight)
	cam.FPS = firstPositive(cam.FPS, c.FPS, DefaultFPS)
	cam.Bitrate = firstPositive(cam.Bitrate, c.Bitrate, DefaultBitrate)
	if cam.Encoder == "" {
		cam.Encoder = c.Encoder
	}
	return cam
}

func (c Config) startTimeout() time.Duration {
	if c.StartTimeout > 0 {
		return c.StartTimeout
	}
	return DefaultStartTimeout
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// DevicePaths returns the V4L2 node of each camera. Only linux cameras have
// one, so other platforms get nil.
func DevicePaths(c Config, indices []capture.CameraIndex, platform string) map[capture.CameraIndex]string {
	if platform != PlatformLinux {
		return nil
	}
	paths := make(map[capture.CameraIndex]string, len(indices))
	for _, index := range indices {
		paths[index] = c.camera(index, platform).Device
	}
	return paths
}
