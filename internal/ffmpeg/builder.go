package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultEncoder is the software H.264 encoder.
const DefaultEncoder = "libx264"

// Base returns the ffmpeg command with standard flags.
func Base() string {
	return "ffmpeg -hide_banner -nostdin -loglevel level+info"
}

// BuildCaptureCommand builds an ffmpeg command that captures one camera and
// writes an Annex-B H.264 elementary stream with access unit delimiters to
// stdout.
func BuildCaptureCommand(p *Params) (string, error) {
	if p == nil {
		return "", errors.New("params are required")
	}
	if p.InputFormat != InputLavfi && p.Device == "" {
		return "", errors.New("device is required")
	}
	if err := ValidateOptions(p.Options); err != nil {
		return "", err
	}

	var cmd strings.Builder
	cmd.WriteString(Base())

	switch p.InputFormat {
	case InputLavfi:
		// Test pattern, read at native rate
		size := p.Resolution()
		if size == "" {
			size = "1280x720"
		}
		cmd.WriteString(" -re -f lavfi")
		cmd.WriteString(fmt.Sprintf(" -i \"testsrc2=size=%s:rate=%d\"", size, fpsOrDefault(p.FPS)))

	case InputV4L2, InputAVFoundation:
		ApplyOptionsToCommand(p.Options, &cmd)
		cmd.WriteString(" -f " + p.InputFormat)
		if p.PixelFormat != "" {
			if p.InputFormat == InputV4L2 {
				cmd.WriteString(" -input_format " + p.PixelFormat)
			} else {
				cmd.WriteString(" -pixel_format " + p.PixelFormat)
			}
		}
		if size := p.Resolution(); size != "" {
			cmd.WriteString(" -video_size " + size)
		}
		if p.FPS > 0 {
			cmd.WriteString(" -framerate " + strconv.Itoa(p.FPS))
		}
		device := p.Device
		if p.InputFormat == InputAVFoundation {
			// Video only, no audio device
			device = "\"" + device + ":none\""
		}
		cmd.WriteString(" -i " + device)

	default:
		return "", fmt.Errorf("unsupported input format %q", p.InputFormat)
	}

	encoder := p.Encoder
	if encoder == "" {
		encoder = DefaultEncoder
	}

	cmd.WriteString(" -an -c:v " + encoder)

	software := !isHardwareEncoder(encoder)
	if software {
		preset := p.Preset
		if preset == "" {
			preset = "veryfast"
		}
		cmd.WriteString(" -pix_fmt yuv420p -profile:v high")
		cmd.WriteString(" -preset " + preset)
		cmd.WriteString(" -tune zerolatency")
	}

	if p.Bitrate > 0 {
		cmd.WriteString(fmt.Sprintf(" -b:v %dk", p.Bitrate))
	}

	gop := p.GOP
	if gop <= 0 {
		gop = 2 * fpsOrDefault(p.FPS)
	}
	cmd.WriteString(fmt.Sprintf(" -g %d", gop))

	// No B-frames keeps decode order equal to capture order
	cmd.WriteString(" -bf 0")

	cmd.WriteString(" -bsf:v h264_metadata=aud=insert")
	cmd.WriteString(" -flush_packets 1 -f h264 -")

	return cmd.String(), nil
}

func fpsOrDefault(fps int) int {
	if fps > 0 {
		return fps
	}
	return 30
}

// isHardwareEncoder checks if the given codec name represents a hardware encoder
func isHardwareEncoder(codec string) bool {
	hardwareCodecs := []string{
		"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "rkmpp", "v4l2m2m",
	}

	for _, hwCodec := range hardwareCodecs {
		if strings.Contains(codec, hwCodec) {
			return true
		}
	}
	return false
}
