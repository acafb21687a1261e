package gstreamer

import (
	"errors"
	"fmt"
	"strings"
)

// Source elements understood by BuildPipeline.
const (
	SourceV4L2 = "v4l2src"
	SourceAVF  = "avfvideosrc"
	SourceTest = "videotestsrc"
)

// DefaultEncoder is the software H.264 encoder element.
const DefaultEncoder = "x264enc"

// SinkName is the appsink element name frames are pulled from.
const SinkName = "sink"

// ErrUnavailable is returned when the binary was built without GStreamer support.
var ErrUnavailable = errors.New("gstreamer support not compiled in (build with -tags gstreamer)")

// Params describes one camera pipeline.
type Params struct {
	Source      string // v4l2src, avfvideosrc, videotestsrc
	Device      string // v4l2src device path
	DeviceIndex int    // avfvideosrc device-index
	Format      string // raw caps format, e.g. UYVY
	Width       int
	Height      int
	FPS         int

	Encoder string // x264enc when empty
	Bitrate int    // kbit/s
	Preset  string // x264enc speed-preset, veryfast when empty
	GOP     int    // keyframe interval in frames, 0 leaves the encoder default
}

// BuildPipeline returns a gst-launch style description that ends in an appsink
// named SinkName producing byte-stream H.264, one access unit per buffer.
func BuildPipeline(p Params) (string, error) {
	var src string
	switch p.Source {
	case SourceV4L2:
		if p.Device == "" {
			return "", errors.New("v4l2src requires a device")
		}
		src = fmt.Sprintf("v4l2src device=%s do-timestamp=true", p.Device)
	case SourceAVF:
		src = fmt.Sprintf("avfvideosrc device-index=%d do-timestamp=true", p.DeviceIndex)
	case SourceTest:
		src = "videotestsrc is-live=true"
	default:
		return "", fmt.Errorf("unsupported source element %q", p.Source)
	}

	enc, err := encoderElement(p)
	if err != nil {
		return "", err
	}

	elements := []string{
		src,
		rawCaps(p),
		"videoconvert",
	}
	elements = append(elements, enc...)
	elements = append(elements,
		"video/x-h264,stream-format=byte-stream,alignment=au",
		fmt.Sprintf("appsink name=%s max-buffers=1 drop=true sync=false", SinkName),
	)
	return strings.Join(elements, " ! "), nil
}

func rawCaps(p Params) string {
	caps := []string{"video/x-raw"}
	if p.Format != "" {
		caps = append(caps, "format="+p.Format)
	}
	if p.Width > 0 && p.Height > 0 {
		caps = append(caps, fmt.Sprintf("width=%d", p.Width), fmt.Sprintf("height=%d", p.Height))
	}
	if p.FPS > 0 {
		caps = append(caps, fmt.Sprintf("framerate=%d/1", p.FPS))
	}
	return strings.Join(caps, ",")
}

// encoderElement returns the encoder and any parser that must follow it.
func encoderElement(p Params) ([]string, error) {
	name := p.Encoder
	if name == "" {
		name = DefaultEncoder
	}

	var props []string
	switch name {
	case "x264enc":
		preset := p.Preset
		if preset == "" {
			preset = "veryfast"
		}
		props = append(props, "tune=zerolatency")
		if p.Bitrate > 0 {
			props = append(props, fmt.Sprintf("bitrate=%d", p.Bitrate))
		}
		props = append(props, "speed-preset="+preset)
		if p.GOP > 0 {
			props = append(props, fmt.Sprintf("key-int-max=%d", p.GOP))
		}
		// x264enc already emits SPS/PPS with each IDR in byte-stream mode
		return []string{join(name, props)}, nil

	case "vtenc_h264", "vtenc_h264_hw":
		props = append(props, "realtime=true", "allow-frame-reordering=false")
		if p.Bitrate > 0 {
			props = append(props, fmt.Sprintf("bitrate=%d", p.Bitrate))
		}
		if p.GOP > 0 {
			props = append(props, fmt.Sprintf("max-keyframe-interval=%d", p.GOP))
		}

	case "vaapih264enc":
		if p.Bitrate > 0 {
			props = append(props, fmt.Sprintf("bitrate=%d", p.Bitrate))
		}
		if p.GOP > 0 {
			props = append(props, fmt.Sprintf("keyframe-period=%d", p.GOP))
		}

	case "v4l2h264enc":
		if p.Bitrate > 0 {
			props = append(props, fmt.Sprintf("extra-controls=\"controls,video_bitrate=%d\"", p.Bitrate*1000))
		}

	default:
		return nil, fmt.Errorf("unsupported encoder element %q", name)
	}

	// Hardware encoders only send parameter sets once
	return []string{join(name, props), "h264parse config-interval=-1"}, nil
}

func join(name string, props []string) string {
	if len(props) == 0 {
		return name
	}
	return name + " " + strings.Join(props, " ")
}
