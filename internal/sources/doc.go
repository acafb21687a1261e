// Package sources opens camera frame sources for the ffmpeg and GStreamer
// backends on linux (V4L2), macOS (AVFoundation) and a synthetic test pattern.
package sources
