//go:build linux

package hotplug

import (
	"context"
	"testing"
	"time"
)

func TestMonitorStopsOnCancel(t *testing.T) {
	m, err := NewMonitor(SubsystemVideo4Linux)
	if err != nil {
		t.Skipf("netlink unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, out) }()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, open := <-out; open {
		t.Error("events channel left open")
	}
}
