package ffmpeg

import "strconv"

// Input formats understood by BuildCaptureCommand.
const (
	InputV4L2         = "v4l2"
	InputAVFoundation = "avfoundation"
	InputLavfi        = "lavfi"
)

// Params describes one camera capture command.
// Zero values mean "let ffmpeg decide" unless noted.
type Params struct {
	// Input Configuration
	InputFormat string // v4l2, avfoundation, lavfi
	Device      string // /dev/video0, avfoundation index "0", ignored for lavfi
	PixelFormat string // yuyv422, uyvy422, mjpeg
	Width       int
	Height      int
	FPS         int

	// Encoder Configuration
	Encoder string // libx264 when empty
	Bitrate int    // kbit/s
	Preset  string // veryfast when empty, software only
	GOP     int    // keyframe interval in frames, 2s worth when 0

	// Behavior Options
	Options []OptionType
}

// Resolution returns WxH or an empty string when either side is unset.
func (p *Params) Resolution() string {
	if p.Width <= 0 || p.Height <= 0 {
		return ""
	}
	return strconv.Itoa(p.Width) + "x" + strconv.Itoa(p.Height)
}
