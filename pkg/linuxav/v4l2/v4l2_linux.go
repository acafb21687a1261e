//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"unsafe"
)

// ioctl numbers and structs are identical on amd64, arm64 and arm.
const (
	vidiocQuerycap = 0x80685600 // _IOR('V', 0, struct v4l2_capability)
	vidiocEnumFmt  = 0xc0405602 // _IOWR('V', 2, struct v4l2_fmtdesc)

	capVideoCapture     = 0x00000001
	capDeviceCaps       = 0x80000000
	bufTypeVideoCapture = 1
	fmtFlagCompressed   = 0x0001
	fmtFlagEmulated     = 0x0002
)

type capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

// Fail the build if the layouts drift from the kernel's.
var (
	_ [104]byte = [unsafe.Sizeof(capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(fmtdesc{})]byte{}
)

// ListDevices probes every video node under /sys/class/video4linux and
// returns the capture devices ordered by index. Nodes that cannot be opened
// are skipped.
func ListDevices() ([]Device, error) {
	entries, err := os.ReadDir(sysClassDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sysClassDir, err)
	}

	var devices []Device
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "video") {
			continue
		}
		dev, err := Probe(filepath.Join("/dev", entry.Name()))
		if err != nil || !dev.Capture {
			continue
		}
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

// Probe queries one device node. A missing node returns an error matching
// os.ErrNotExist; a file that is not a V4L2 node returns ErrNotV4L2.
func Probe(path string) (Device, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return Device{}, &os.PathError{Op: "open", Path: path, Err: err}
	}
	defer syscall.Close(fd)

	var c capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Device{}, fmt.Errorf("%s: %w (%v)", path, ErrNotV4L2, err)
	}

	caps := c.capabilities
	if caps&capDeviceCaps != 0 {
		caps = c.deviceCaps
	}

	node := filepath.Base(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		node = filepath.Base(resolved)
	}

	dev := Device{
		Index:   nodeIndex(node),
		Path:    path,
		Name:    cstr(c.card[:]),
		Driver:  cstr(c.driver[:]),
		BusInfo: cstr(c.busInfo[:]),
		ID:      stableID(byIDDir, node),
		Capture: caps&capVideoCapture != 0,
	}
	if dev.Capture {
		formats, err := enumFormats(fd)
		if err != nil {
			return dev, fmt.Errorf("%s: %w", path, err)
		}
		dev.Formats = formats
	}
	return dev, nil
}

func enumFormats(fd int) ([]Format, error) {
	var formats []Format
	for i := uint32(0); ; i++ {
		desc := fmtdesc{index: i, typ: bufTypeVideoCapture}
		if err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, syscall.EINVAL) {
				return formats, nil
			}
			return formats, fmt.Errorf("enumerate format %d: %w", i, err)
		}
		formats = append(formats, Format{
			FourCC:      FourCC(desc.pixelformat),
			Description: cstr(desc.description[:]),
			Compressed:  desc.flags&fmtFlagCompressed != 0,
			Emulated:    desc.flags&fmtFlagEmulated != 0,
		})
	}
}

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
