package sources

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/ffmpeg"
	"github.com/smazurov/camlog/internal/gstreamer"
	"github.com/smazurov/camlog/internal/logging"
)

// NewOpener validates cfg and returns a SourceOpener for the selected backend
// and platform. Every opened source holds an exclusive claim on its camera
// index until it is closed.
func NewOpener(cfg Config, logger *slog.Logger) (capture.SourceOpener, error) {
	platform, err := ResolvePlatform(cfg.Platform)
	if err != nil {
		return nil, err
	}
	if _, err := ffmpeg.ParseOptions(cfg.FFmpegOptions); err != nil {
		return nil, err
	}

	var open capture.SourceOpener
	switch backend := backendOrDefault(cfg.Backend); backend {
	case BackendFFmpeg:
		open = ffmpegOpener(cfg, platform, logger)
	case BackendGStreamer:
		if !gstreamer.Available() {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, gstreamer.ErrUnavailable)
		}
		open = gstreamerOpener(cfg, platform, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	return func(ctx context.Context, index capture.CameraIndex) (capture.Source, error) {
		if err := deviceClaims.acquire(index); err != nil {
			return nil, err
		}
		src, err := open(ctx, index)
		if err != nil {
			deviceClaims.release(index)
			return nil, err
		}
		return &claimedSource{Source: src, index: index}, nil
	}, nil
}

func ffmpegOpener(cfg Config, platform string, logger *slog.Logger) capture.SourceOpener {
	return func(ctx context.Context, index capture.CameraIndex) (capture.Source, error) {
		params, err := FFmpegParams(cfg, index, platform)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		if platform == PlatformLinux {
			if err := checkDevice(params.Device); err != nil {
				return nil, err
			}
		}

		command, err := ffmpeg.BuildCaptureCommand(params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}

		id := "camera-" + index.String()
		logger.Debug("Starting capture", "camera", index, "command", command)
		src, err := openFFmpeg(ctx, ffmpegOptions{
			id:           id,
			command:      command,
			startTimeout: cfg.startTimeout(),
			dropStale:    true,
			logger:       logger.With("camera", int(index)),
			outputLogger: logging.GetLogger("ffmpeg").With("camera", int(index)),
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func gstreamerOpener(cfg Config, platform string, logger *slog.Logger) capture.SourceOpener {
	return func(ctx context.Context, index capture.CameraIndex) (capture.Source, error) {
		params := GStreamerParams(cfg, index, platform)
		if params.Source == gstreamer.SourceV4L2 {
			if err := checkDevice(params.Device); err != nil {
				return nil, err
			}
		}

		description, err := gstreamer.BuildPipeline(params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}

		logger.Debug("Starting pipeline", "camera", index, "pipeline", description)
		src, err := gstreamer.Open(ctx, description, cfg.startTimeout(),
			logging.GetLogger("gstreamer").With("camera", int(index)))
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}
