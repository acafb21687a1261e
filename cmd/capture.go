package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/config"
	"github.com/smazurov/camlog/internal/sources"
)

// CaptureFlags selects the cameras and how they are captured. The root
// command and pipeline share it.
type CaptureFlags struct {
	Camera      int
	Dual        bool
	Cameras     string
	CamerasFile string

	Platform string
	Backend  string

	Width         int
	Height        int
	FPS           int
	Bitrate       int
	Encoder       string
	Preset        string
	GOP           int
	PixelFormat   string
	FFmpegOptions []string
	StartTimeout  time.Duration

	TopicPattern string
}

// Capture is the resolved camera set.
type Capture struct {
	Indices []capture.CameraIndex
	Sources sources.Config
	// Topics holds per-camera topic overrides from the cameras file.
	Topics map[capture.CameraIndex]string
	File   *config.CamerasFile
}

// BindCaptureFlags registers the capture flags on fs.
func BindCaptureFlags(fs *pflag.FlagSet, f *CaptureFlags) {
	fs.IntVar(&f.Camera, "camera", 0, "Camera index")
	fs.BoolVar(&f.Dual, "dual", false, "Record cameras N and N+1")
	fs.StringVar(&f.Cameras, "cameras", "", `Explicit camera list, e.g. "0,2"`)
	fs.StringVar(&f.CamerasFile, "cameras-file", "", "Per-camera settings file")
	fs.StringVar(&f.Platform, "platform", sources.PlatformAuto, "auto, linux, macos or test")
	fs.StringVar(&f.Backend, "backend", sources.BackendFFmpeg, "ffmpeg or gstreamer")
	fs.IntVar(&f.Width, "width", sources.DefaultWidth, "Frame width")
	fs.IntVar(&f.Height, "height", sources.DefaultHeight, "Frame height")
	fs.IntVar(&f.FPS, "fps", sources.DefaultFPS, "Frames per second")
	fs.IntVar(&f.Bitrate, "bitrate", sources.DefaultBitrate, "Encoder bitrate in kbit/s")
	fs.StringVar(&f.Encoder, "encoder", "", "H.264 encoder, platform default when empty")
	fs.StringVar(&f.Preset, "preset", "", "Encoder preset")
	fs.IntVar(&f.GOP, "gop", 0, "Keyframe interval in frames")
	fs.StringVar(&f.PixelFormat, "pixel-format", "", "Capture pixel format")
	fs.StringSliceVar(&f.FFmpegOptions, "ffmpeg-option", nil, "ffmpeg behavior option, repeatable")
	fs.DurationVar(&f.StartTimeout, "start-timeout", sources.DefaultStartTimeout, "Time to wait for the first frame")
	fs.StringVar(&f.TopicPattern, "topic-pattern", "", "Topic pattern with {index}")
}

// ParseCameraList parses a comma separated list of camera indices.
func ParseCameraList(list string) ([]capture.CameraIndex, error) {
	var indices []capture.CameraIndex
	seen := make(map[capture.CameraIndex]bool)

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid camera index %q", part)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid camera index %d: must not be negative", n)
		}
		index := capture.CameraIndex(n)
		if seen[index] {
			return nil, fmt.Errorf("%w: %d", capture.ErrDuplicateCamera, n)
		}
		seen[index] = true
		indices = append(indices, index)
	}

	if len(indices) == 0 {
		return nil, fmt.Errorf("no camera index in %q", list)
	}
	return indices, nil
}

// Resolve picks the camera set: an explicit --cameras list wins, then the
// cameras file, then --camera with --dual.
func (f CaptureFlags) Resolve() (*Capture, error) {
	var file *config.CamerasFile
	if f.CamerasFile != "" {
		loaded, err := config.LoadCameras(f.CamerasFile)
		if err != nil {
			return nil, err
		}
		file = loaded
	}
	return f.ResolveWith(file)
}

// ResolveWith resolves against an already loaded cameras file, which may be nil.
func (f CaptureFlags) ResolveWith(file *config.CamerasFile) (*Capture, error) {
	var indices []capture.CameraIndex
	switch {
	case f.Cameras != "":
		list, err := ParseCameraList(f.Cameras)
		if err != nil {
			return nil, err
		}
		indices = list
	case file != nil && len(file.Cameras) > 0:
		for _, n := range file.Indices() {
			indices = append(indices, capture.CameraIndex(n))
		}
	default:
		if f.Camera < 0 {
			return nil, fmt.Errorf("invalid camera index %d: must not be negative", f.Camera)
		}
		indices = []capture.CameraIndex{capture.CameraIndex(f.Camera)}
		if f.Dual {
			indices = append(indices, capture.CameraIndex(f.Camera+1))
		}
	}

	c := &Capture{
		Indices: indices,
		Sources: sources.Config{
			Backend:       f.Backend,
			Platform:      f.Platform,
			Width:         f.Width,
			Height:        f.Height,
			FPS:           f.FPS,
			Bitrate:       f.Bitrate,
			Encoder:       f.Encoder,
			Preset:        f.Preset,
			GOP:           f.GOP,
			PixelFormat:   f.PixelFormat,
			FFmpegOptions: f.FFmpegOptions,
			StartTimeout:  f.StartTimeout,
			Cameras:       make(map[capture.CameraIndex]sources.Camera),
		},
		Topics: make(map[capture.CameraIndex]string),
		File:   file,
	}

	if file != nil {
		for _, index := range indices {
			entry, ok := file.ByIndex(int(index))
			if !ok {
				continue
			}
			c.Sources.Cameras[index] = sources.Camera{
				Device:      entry.Device,
				PixelFormat: entry.PixelFormat,
				Width:       entry.Width,
				Height:      entry.Height,
				FPS:         entry.FPS,
				Bitrate:     entry.Bitrate,
				Encoder:     entry.Encoder,
			}
			if entry.Topic != "" {
				c.Topics[index] = entry.Topic
			}
		}
	}

	sort.Slice(c.Indices, func(i, j int) bool { return c.Indices[i] < c.Indices[j] })
	return c, nil
}
