package capture

import "strconv"

// Identify derives the record identifier for a frame.
//
// The presentation timestamp wins, then the decoding timestamp. A frame
// with neither consumes the next value of the per-source counter. The
// returned counter must be passed to the next call for the same source.
func Identify(frame Frame, counter uint64) (string, uint64) {
	switch {
	case frame.PTS.Valid():
		return "pts:" + strconv.FormatInt(int64(frame.PTS), 10), counter
	case frame.DTS.Valid():
		return "dts:" + strconv.FormatInt(int64(frame.DTS), 10), counter
	default:
		counter++
		return "seq:" + strconv.FormatUint(counter, 10), counter
	}
}
