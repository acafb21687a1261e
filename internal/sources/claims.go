package sources

import (
	"fmt"
	"sync"

	"github.com/smazurov/camlog/internal/capture"
)

// claims tracks camera indices held by open sources in this process.
type claims struct {
	mu   sync.Mutex
	held map[capture.CameraIndex]struct{}
}

var deviceClaims = &claims{held: make(map[capture.CameraIndex]struct{})}

func (c *claims) acquire(index capture.CameraIndex) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[index]; ok {
		return fmt.Errorf("%w: camera %d already in use", capture.ErrDeviceUnavailable, index)
	}
	c.held[index] = struct{}{}
	return nil
}

func (c *claims) release(index capture.CameraIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, index)
}

// claimedSource releases its claim on the first Close.
type claimedSource struct {
	capture.Source
	index capture.CameraIndex
	once  sync.Once
}

func (s *claimedSource) Close() error {
	err := s.Source.Close()
	s.once.Do(func() { deviceClaims.release(s.index) })
	return err
}
