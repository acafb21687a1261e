// Package hotplug reports kernel device add and remove events by reading
// NETLINK_KOBJECT_UEVENT broadcasts, without cgo or udev.
package hotplug

import (
	"bytes"
	"errors"
	"strings"
)

// ErrUnsupported is returned by NewMonitor outside linux.
var ErrUnsupported = errors.New("hotplug monitoring is only available on linux")

// Actions that matter for capture devices.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// SubsystemVideo4Linux is the subsystem of /dev/videoN nodes.
const SubsystemVideo4Linux = "video4linux"

// Event is one kernel uevent.
type Event struct {
	Action    string
	KObj      string // /devices/... path of the kernel object
	Subsystem string
	DevName   string // relative to /dev, "video2"
	Env       map[string]string
}

// Parse decodes "ACTION@KOBJ\0KEY=VALUE\0..." and reports false for
// anything else. Messages relayed by udev carry a binary "libudev" header
// and are rejected; only kernel broadcasts are read.
func Parse(data []byte) (Event, bool) {
	if len(data) == 0 || bytes.HasPrefix(data, []byte("libudev")) {
		return Event{}, false
	}

	fields := bytes.Split(data, []byte{0})
	action, kobj, ok := strings.Cut(string(fields[0]), "@")
	if !ok || action == "" || kobj == "" {
		return Event{}, false
	}

	ev := Event{Action: action, KObj: kobj, Env: make(map[string]string, len(fields)-1)}
	for _, field := range fields[1:] {
		key, value, ok := strings.Cut(string(field), "=")
		if !ok || key == "" {
			continue
		}
		ev.Env[key] = value
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	ev.DevName = ev.Env["DEVNAME"]
	return ev, true
}
