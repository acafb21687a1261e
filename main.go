package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/camlog/cmd"
	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/config"
	"github.com/smazurov/camlog/internal/events"
	"github.com/smazurov/camlog/internal/journal"
	"github.com/smazurov/camlog/internal/live"
	"github.com/smazurov/camlog/internal/logging"
	"github.com/smazurov/camlog/internal/nats"
	"github.com/smazurov/camlog/internal/recorder"
	"github.com/smazurov/camlog/internal/sources"
	"github.com/smazurov/camlog/internal/systemd"
	"github.com/smazurov/camlog/internal/version"
	"github.com/smazurov/camlog/pkg/linuxav/hotplug"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Camera selection
	Camera      int    `help:"Camera index" default:"0" toml:"capture.camera" env:"CAMERA"`
	Dual        bool   `help:"Record cameras N and N+1" default:"false" toml:"capture.dual" env:"DUAL"`
	Cameras     string `help:"Explicit camera list, e.g. 0,2 (overrides --camera and --dual)" default:"" toml:"capture.cameras" env:"CAMERAS"`
	CamerasFile string `help:"Per-camera settings file" default:"" toml:"capture.cameras_file" env:"CAMERAS_FILE"`
	Watch       bool   `help:"Restart the session when the cameras file changes" default:"false" toml:"capture.watch" env:"WATCH"`
	Hotplug     bool   `help:"Restart the session when a missing camera is plugged back in (linux)" default:"false" toml:"capture.hotplug" env:"HOTPLUG"`

	// Capture settings
	Platform      string `help:"Capture platform (auto, linux, macos, test)" default:"auto" toml:"capture.platform" env:"PLATFORM"`
	Backend       string `help:"Capture backend (ffmpeg, gstreamer)" default:"ffmpeg" toml:"capture.backend" env:"BACKEND"`
	Width         int    `help:"Frame width" default:"1280" toml:"capture.width" env:"WIDTH"`
	Height        int    `help:"Frame height" default:"720" toml:"capture.height" env:"HEIGHT"`
	FPS           int    `help:"Frames per second" name:"fps" default:"15" toml:"capture.fps" env:"FPS"`
	Bitrate       int    `help:"Encoder bitrate in kbit/s" default:"4000" toml:"capture.bitrate" env:"BITRATE"`
	Encoder       string `help:"H.264 encoder, platform default when empty" default:"" toml:"capture.encoder" env:"ENCODER"`
	Preset        string `help:"Encoder preset" default:"" toml:"capture.preset" env:"PRESET"`
	GOP           int    `help:"Keyframe interval in frames, 0 for encoder default" name:"gop" default:"0" toml:"capture.gop" env:"GOP"`
	PixelFormat   string `help:"Capture pixel format" default:"" toml:"capture.pixel_format" env:"PIXEL_FORMAT"`
	FfmpegOptions string `help:"Comma separated ffmpeg behavior options" name:"ffmpeg-options" default:"" toml:"capture.ffmpeg_options" env:"FFMPEG_OPTIONS"`

	// Timing
	IdleWaitMs     int `help:"Sleep after an empty pull (ms)" default:"10" toml:"timing.idle_wait_ms" env:"IDLE_WAIT_MS"`
	PullTimeoutMs  int `help:"Maximum wait of one pull (ms)" default:"100" toml:"timing.pull_timeout_ms" env:"PULL_TIMEOUT_MS"`
	StartTimeoutMs int `help:"Time to wait for a camera's first frame (ms)" default:"5000" toml:"timing.start_timeout_ms" env:"START_TIMEOUT_MS"`
	StopTimeoutMs  int `help:"Time to wait for each worker on stop (ms)" default:"2000" toml:"timing.stop_timeout_ms" env:"STOP_TIMEOUT_MS"`

	// Journal settings
	OutputDir    string `help:"Directory for journal files" default:"recordings" toml:"journal.output_dir" env:"OUTPUT_DIR"`
	NamePattern  string `help:"Journal file name, {time} and {cameras} are expanded" default:"camlog_{time}.mcap" toml:"journal.name_pattern" env:"NAME_PATTERN"`
	Overwrite    bool   `help:"Replace an existing journal file" default:"false" toml:"journal.overwrite" env:"OVERWRITE"`
	Compression  string `help:"Chunk compression (zstd, lz4, none)" default:"zstd" toml:"journal.compression" env:"COMPRESSION"`
	TopicPattern string `help:"Topic pattern, {index} is expanded" default:"" toml:"journal.topic_pattern" env:"TOPIC_PATTERN"`

	// Live server settings
	LiveAddr     string `help:"Live inspection server address, empty disables it" default:":8765" toml:"live.addr" env:"LIVE_ADDR"`
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// NATS relay settings
	NatsURL      string `help:"NATS server to relay events to, empty disables the relay" name:"nats-url" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded bool   `help:"Run an embedded NATS server and relay to it" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture   string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingJournal   string `help:"Journal logging level" default:"info" toml:"logging.journal" env:"LOGGING_JOURNAL"`
	LoggingSources   string `help:"Sources logging level" default:"info" toml:"logging.sources" env:"LOGGING_SOURCES"`
	LoggingFfmpeg    string `help:"FFmpeg process logging level" name:"logging-ffmpeg" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingGstreamer string `help:"GStreamer logging level" name:"logging-gstreamer" default:"info" toml:"logging.gstreamer" env:"LOGGING_GSTREAMER"`
	LoggingRecorder  string `help:"Recorder logging level" default:"info" toml:"logging.recorder" env:"LOGGING_RECORDER"`
	LoggingLive      string `help:"Live server logging level" default:"info" toml:"logging.live" env:"LOGGING_LIVE"`
	LoggingHTTP      string `help:"HTTP request logging level" name:"logging-http" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingConfig    string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingNats      string `help:"NATS relay logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func (o *Options) captureFlags() cmd.CaptureFlags {
	var ffmpegOptions []string
	for _, opt := range strings.Split(o.FfmpegOptions, ",") {
		if opt = strings.TrimSpace(opt); opt != "" {
			ffmpegOptions = append(ffmpegOptions, opt)
		}
	}
	return cmd.CaptureFlags{
		Camera:        o.Camera,
		Dual:          o.Dual,
		Cameras:       o.Cameras,
		CamerasFile:   o.CamerasFile,
		Platform:      o.Platform,
		Backend:       o.Backend,
		Width:         o.Width,
		Height:        o.Height,
		FPS:           o.FPS,
		Bitrate:       o.Bitrate,
		Encoder:       o.Encoder,
		Preset:        o.Preset,
		GOP:           o.GOP,
		PixelFormat:   o.PixelFormat,
		FFmpegOptions: ffmpegOptions,
		StartTimeout:  time.Duration(o.StartTimeoutMs) * time.Millisecond,
		TopicPattern:  o.TopicPattern,
	}
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"capture":   o.LoggingCapture,
			"journal":   o.LoggingJournal,
			"sources":   o.LoggingSources,
			"ffmpeg":    o.LoggingFfmpeg,
			"gstreamer": o.LoggingGstreamer,
			"recorder":  o.LoggingRecorder,
			"live":      o.LoggingLive,
			"http":      o.LoggingHTTP,
			"config":    o.LoggingConfig,
			"nats":      o.LoggingNats,
		},
	}
}

// buildPlan turns a resolved camera set into a recorder plan.
func buildPlan(o *Options, c *cmd.Capture) (recorder.Plan, error) {
	opener, err := sources.NewOpener(c.Sources, logging.GetLogger("sources"))
	if err != nil {
		return recorder.Plan{}, err
	}
	platform, err := sources.ResolvePlatform(c.Sources.Platform)
	if err != nil {
		return recorder.Plan{}, err
	}
	return recorder.Plan{
		Cameras:      c.Indices,
		OpenSource:   opener,
		TopicPattern: o.TopicPattern,
		Topics:       c.Topics,
		Backend:      c.Sources.Backend,
		Platform:     platform,
		Devices:      sources.DevicePaths(c.Sources, c.Indices, platform),
	}, nil
}

func liveWorkers(status recorder.Status) int {
	n := 0
	for _, w := range status.Workers {
		if w.State != capture.StateStopped {
			n++
		}
	}
	return n
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(live.LogEntryEvent(entry))
		})

		rec := recorder.New(recorder.Options{
			OutputDir:   opts.OutputDir,
			NamePattern: opts.NamePattern,
			Journal: journal.Options{
				AllowOverwrite: opts.Overwrite,
				Compression:    opts.Compression,
				Library:        version.Library(),
				Logger:         logging.GetLogger("journal"),
			},
			IdleWait:    time.Duration(opts.IdleWaitMs) * time.Millisecond,
			PullTimeout: time.Duration(opts.PullTimeoutMs) * time.Millisecond,
			StopTimeout: time.Duration(opts.StopTimeoutMs) * time.Millisecond,
			Version:     version.Version,
			Bus:         eventBus,
			Logger:      logging.GetLogger("recorder"),
		})

		notifier := systemd.NewNotifier(logger)
		ctx, cancel := context.WithCancel(context.Background())

		var liveServer *live.Server
		if opts.LiveAddr != "" {
			liveServer = live.NewServer(live.Options{
				Status:       rec,
				Bus:          eventBus,
				AuthUsername: opts.AuthUsername,
				AuthPassword: opts.AuthPassword,
				Logger:       logging.GetLogger("live"),
				HTTPLogger:   logging.GetLogger("http"),
			})
		}

		var (
			watcher    *config.Watcher[*config.CamerasFile]
			natsServer *nats.Server
			relay      *nats.Relay
			unsubState func()
			hangup     = make(chan os.Signal, 1)
			stopOnce   sync.Once
		)

		shutdown := func() {
			stopOnce.Do(func() {
				notifier.Stopping()
				signal.Stop(hangup)
				if watcher != nil {
					_ = watcher.Stop()
				}
				if unsubState != nil {
					unsubState()
				}
				// Cancel first so hotplug and relay restarts stop arriving
				cancel()
				if err := rec.Stop(recorder.ReasonShutdown); err != nil {
					logger.Error("Error closing journal", "error", err)
				}
				if relay != nil {
					relay.Stop()
				}
				if natsServer != nil {
					natsServer.Stop()
				}
				if liveServer != nil {
					if err := liveServer.Stop(); err != nil {
						logger.Error("Error stopping live server", "error", err)
					}
				}
			})
		}

		hooks.OnStart(func() {
			flags := opts.captureFlags()
			resolved, err := flags.Resolve()
			if err != nil {
				logger.Error("Invalid camera selection", "error", err)
				os.Exit(1)
			}
			plan, err := buildPlan(opts, resolved)
			if err != nil {
				logger.Error("Invalid capture settings", "error", err)
				os.Exit(1)
			}

			session, err := rec.Start(ctx, plan)
			if err != nil {
				logger.Error("Failed to start recording", "error", err)
				os.Exit(1)
			}
			notifier.Ready(len(session.Workers()))
			go notifier.Watchdog(ctx)

			unsubState = eventBus.Subscribe(func(events.WorkerStateChangedEvent) {
				notifier.Status(liveWorkers(rec.Status()))
			})

			if liveServer != nil {
				go func() {
					if startErr := liveServer.Start(opts.LiveAddr); startErr != nil {
						// The recording keeps running without its inspection surface
						logger.Error("Live server failed", "error", startErr)
					}
				}()
			}

			natsURL := opts.NatsURL
			if opts.NatsEmbedded {
				natsServer = nats.NewServer(nats.ServerOptions{Port: opts.NatsPort, Logger: logging.GetLogger("nats")})
				if startErr := natsServer.Start(); startErr != nil {
					logger.Error("Failed to start embedded NATS server", "error", startErr)
					natsServer = nil
				} else if natsURL == "" {
					natsURL = natsServer.ClientURL()
				}
			}
			if natsURL != "" {
				relay = nats.NewRelay(natsURL, eventBus, func(reason string) (string, error) {
					restarted, restartErr := rec.RestartCurrent(ctx, reason)
					if restartErr != nil {
						return "", restartErr
					}
					return restarted.ID(), nil
				}, logging.GetLogger("nats"))
				if startErr := relay.Start(); startErr != nil {
					logger.Warn("NATS relay unavailable", "url", natsURL, "error", startErr)
				}
			}

			if opts.Watch && opts.CamerasFile != "" {
				watcher = config.NewConfigWatcher(opts.CamerasFile, config.LoadCameras, logging.GetLogger("config"),
					config.WithErrorHandler[*config.CamerasFile](func(loadErr error) {
						logger.Warn("Cameras file rejected, keeping the current session", "error", loadErr)
					}))
				watcher.OnReload(func(file *config.CamerasFile) {
					reloaded, resolveErr := flags.ResolveWith(file)
					if resolveErr != nil {
						logger.Warn("Cameras file rejected, keeping the current session", "error", resolveErr)
						return
					}
					next, planErr := buildPlan(opts, reloaded)
					if planErr != nil {
						logger.Warn("Cameras file rejected, keeping the current session", "error", planErr)
						return
					}
					restarted, restartErr := rec.Restart(ctx, next, recorder.ReasonReload)
					if restartErr != nil {
						logger.Error("Failed to restart after cameras file change", "error", restartErr)
						notifier.Status(0)
						return
					}
					notifier.Status(len(restarted.Workers()))
				})
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Cameras file watcher unavailable", "error", startErr)
					watcher = nil
				} else {
					// SIGHUP reloads the cameras file without waiting for a write
					signal.Notify(hangup, syscall.SIGHUP)
					go func(w *config.Watcher[*config.CamerasFile]) {
						for {
							select {
							case <-hangup:
								logger.Info("SIGHUP received, reloading cameras file")
								w.Reload()
							case <-ctx.Done():
								return
							}
						}
					}(watcher)
				}
			}

			if opts.Hotplug {
				monitor, monErr := hotplug.NewMonitor(hotplug.SubsystemVideo4Linux)
				if monErr != nil {
					logger.Warn("Device hotplug monitoring unavailable", "error", monErr)
				} else {
					changes := make(chan hotplug.Event, 16)
					go func() {
						if runErr := monitor.Run(ctx, changes); runErr != nil && ctx.Err() == nil {
							logger.Warn("Device hotplug monitor stopped", "error", runErr)
						}
					}()
					go rec.FollowDevices(ctx, changes, recorder.DefaultSettle)
				}
			}

			// Returning ends the process; signals are handled by OnStop
			select {
			case <-rec.Finished():
				logger.Warn("Every camera stopped, exiting")
			case <-ctx.Done():
			}
			shutdown()
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			shutdown()
		})
	})

	cli.Root().Use = "camlog"
	cli.Root().Short = "Record camera frames into an MCAP journal"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(
		cmd.CreatePipelineCmd(),
		cmd.CreateInspectCmd(),
		cmd.CreateVersionCmd(),
		cmd.CreateDevicesCmd(),
		cmd.CreateRestartCmd(),
	)

	cli.Run()
}
