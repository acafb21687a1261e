// Package v4l2 probes Video4Linux2 capture devices without cgo: device
// capabilities, the pixel formats a camera offers, and the stable
// /dev/v4l/by-id name of each node.
//
//	devices, err := v4l2.ListDevices()
//	for _, dev := range devices {
//	    fmt.Println(dev.Index, dev.Path, dev.Name, dev.Has("H264"))
//	}
package v4l2

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrUnsupported is returned on systems without V4L2.
	ErrUnsupported = errors.New("v4l2 is only available on linux")
	// ErrNotV4L2 is returned for paths that do not answer VIDIOC_QUERYCAP.
	ErrNotV4L2 = errors.New("not a v4l2 device")
)

const (
	sysClassDir = "/sys/class/video4linux"
	byIDDir     = "/dev/v4l/by-id"
)

// Device describes one video node.
type Device struct {
	Index   int      `json:"index"` // N of /dev/videoN, -1 when the name has no number
	Path    string   `json:"path"`
	Name    string   `json:"name"`
	Driver  string   `json:"driver"`
	BusInfo string   `json:"bus_info"`
	ID      string   `json:"id,omitempty"` // /dev/v4l/by-id entry
	Capture bool     `json:"capture"`
	Formats []Format `json:"formats,omitempty"`
}

// Format is one pixel format offered by a capture node.
type Format struct {
	FourCC      string `json:"fourcc"`
	Description string `json:"description"`
	Compressed  bool   `json:"compressed,omitempty"`
	Emulated    bool   `json:"emulated,omitempty"`
}

// Has reports whether the device offers the format with the given FourCC.
func (d Device) Has(fourcc string) bool {
	for _, f := range d.Formats {
		if strings.EqualFold(strings.TrimSpace(f.FourCC), fourcc) {
			return true
		}
	}
	return false
}

// FourCC renders a little-endian pixel format code ("YUYV", "MJPG", "H264").
func FourCC(code uint32) string {
	b := []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
	return strings.TrimRight(string(b), "\x00 ")
}

// nodeIndex returns N for a "videoN" node name.
func nodeIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
	if err != nil || !strings.HasPrefix(name, "video") {
		return -1
	}
	return n
}

// stableID finds the by-id symlink in dir that points at node.
func stableID(dir, node string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if filepath.Base(target) == node {
			return entry.Name()
		}
	}
	return ""
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
