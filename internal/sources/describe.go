package sources

import (
	"fmt"
	"strconv"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/ffmpeg"
	"github.com/smazurov/camlog/internal/gstreamer"
)

// Describe returns the ffmpeg command or GStreamer pipeline that would
// capture the camera, without running it.
func Describe(cfg Config, index capture.CameraIndex) (string, error) {
	platform, err := ResolvePlatform(cfg.Platform)
	if err != nil {
		return "", err
	}

	switch backendOrDefault(cfg.Backend) {
	case BackendFFmpeg:
		params, err := FFmpegParams(cfg, index, platform)
		if err != nil {
			return "", err
		}
		return ffmpeg.BuildCaptureCommand(params)
	case BackendGStreamer:
		return gstreamer.BuildPipeline(GStreamerParams(cfg, index, platform))
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// FFmpegParams returns the ffmpeg capture parameters for a camera.
func FFmpegParams(cfg Config, index capture.CameraIndex, platform string) (*ffmpeg.Params, error) {
	options, err := ffmpeg.ParseOptions(cfg.FFmpegOptions)
	if err != nil {
		return nil, err
	}

	cam := cfg.camera(index, platform)
	p := &ffmpeg.Params{
		Device:      cam.Device,
		PixelFormat: cam.PixelFormat,
		Width:       cam.Width,
		Height:      cam.Height,
		FPS:         cam.FPS,
		Encoder:     cam.Encoder,
		Bitrate:     cam.Bitrate,
		Preset:      cfg.Preset,
		GOP:         cfg.GOP,
		Options:     options,
	}

	switch platform {
	case PlatformLinux:
		p.InputFormat = ffmpeg.InputV4L2
	case PlatformMacOS:
		p.InputFormat = ffmpeg.InputAVFoundation
		if p.PixelFormat == "" {
			p.PixelFormat = "uyvy422"
		}
	case PlatformTest:
		p.InputFormat = ffmpeg.InputLavfi
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return p, nil
}

// GStreamerParams returns the GStreamer pipeline parameters for a camera.
func GStreamerParams(cfg Config, index capture.CameraIndex, platform string) gstreamer.Params {
	cam := cfg.camera(index, platform)
	p := gstreamer.Params{
		Format:  cam.PixelFormat,
		Width:   cam.Width,
		Height:  cam.Height,
		FPS:     cam.FPS,
		Encoder: cam.Encoder,
		Bitrate: cam.Bitrate,
		Preset:  cfg.Preset,
		GOP:     cfg.GOP,
	}

	switch platform {
	case PlatformLinux:
		p.Source = gstreamer.SourceV4L2
		p.Device = cam.Device
	case PlatformMacOS:
		p.Source = gstreamer.SourceAVF
		p.DeviceIndex = int(index)
		if n, err := strconv.Atoi(cam.Device); err == nil {
			p.DeviceIndex = n
		}
		if p.Format == "" {
			p.Format = "UYVY"
		}
	default:
		p.Source = gstreamer.SourceTest
	}
	return p
}

func backendOrDefault(backend string) string {
	if backend == "" {
		return BackendFFmpeg
	}
	return backend
}
