//go:build !linux

package v4l2

// ListDevices returns ErrUnsupported outside linux.
func ListDevices() ([]Device, error) {
	return nil, ErrUnsupported
}

// Probe returns ErrUnsupported outside linux.
func Probe(string) (Device, error) {
	return Device{}, ErrUnsupported
}
