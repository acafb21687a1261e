//go:build linux

package hotplug

import (
	"context"
	"errors"
	"syscall"
)

const (
	netlinkKobjectUEvent = 15
	kernelGroup          = 1
)

// Monitor reads uevents from the kernel broadcast group.
type Monitor struct {
	fd         int
	subsystems map[string]bool
}

// NewMonitor opens the netlink socket. With subsystems given, only events
// from those subsystems are delivered.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_DGRAM|syscall.SOCK_CLOEXEC, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}
	if err := syscall.Bind(fd, &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK, Groups: kernelGroup}); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	// Wake up once a second to notice cancellation
	if err := syscall.SetsockoptTimeval(fd, syscall.SOL_SOCKET, syscall.SO_RCVTIMEO, &syscall.Timeval{Sec: 1}); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	m := &Monitor{fd: fd, subsystems: make(map[string]bool, len(subsystems))}
	for _, s := range subsystems {
		m.subsystems[s] = true
	}
	return m, nil
}

// Run delivers events to out until ctx ends or the socket fails, then
// closes out and the socket.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	defer close(out)
	defer syscall.Close(m.fd)

	buf := make([]byte, 8192)
	for ctx.Err() == nil {
		n, _, err := syscall.Recvfrom(m.fd, buf, 0)
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}

		ev, ok := Parse(buf[:n])
		if !ok || !m.wants(ev) {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

func (m *Monitor) wants(ev Event) bool {
	return len(m.subsystems) == 0 || m.subsystems[ev.Subsystem]
}
