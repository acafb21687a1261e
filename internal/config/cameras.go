package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
)

// CamerasFileVersion is the only cameras file version understood.
const CamerasFileVersion = 1

// CameraConfig holds per-camera overrides. Zero values keep the CLI defaults.
type CameraConfig struct {
	Index       int    `toml:"index" json:"index"`
	Topic       string `toml:"topic,omitempty" json:"topic,omitempty"`
	Device      string `toml:"device,omitempty" json:"device,omitempty"`
	PixelFormat string `toml:"pixel_format,omitempty" json:"pixel_format,omitempty"`
	Width       int    `toml:"width,omitempty" json:"width,omitempty"`
	Height      int    `toml:"height,omitempty" json:"height,omitempty"`
	FPS         int    `toml:"fps,omitempty" json:"fps,omitempty"`
	Bitrate     int    `toml:"bitrate,omitempty" json:"bitrate,omitempty"` // kbit/s
	Encoder     string `toml:"encoder,omitempty" json:"encoder,omitempty"`
}

// CamerasFile is the parsed cameras file. Entries are keyed by a free-form name.
type CamerasFile struct {
	Version int                     `toml:"version" json:"version"`
	Cameras map[string]CameraConfig `toml:"cameras" json:"cameras"`
}

// LoadCameras reads and validates a cameras file.
func LoadCameras(path string) (*CamerasFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras file: %w", err)
	}

	var file CamerasFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse cameras file: %w", err)
	}

	if file.Version == 0 {
		file.Version = CamerasFileVersion
	}
	if file.Cameras == nil {
		file.Cameras = make(map[string]CameraConfig)
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cameras file %s: %w", path, err)
	}
	return &file, nil
}

// Validate checks the version, indices and topics.
func (f *CamerasFile) Validate() error {
	if f.Version != CamerasFileVersion {
		return fmt.Errorf("unsupported version %d", f.Version)
	}

	var result *multierror.Error
	byIndex := make(map[int]string, len(f.Cameras))
	byTopic := make(map[string]string, len(f.Cameras))
	for _, name := range f.names() {
		cam := f.Cameras[name]
		if cam.Index < 0 {
			result = multierror.Append(result, fmt.Errorf("camera %q: index must not be negative", name))
			continue
		}
		if other, ok := byIndex[cam.Index]; ok {
			result = multierror.Append(result, fmt.Errorf("camera %q: index %d already used by %q", name, cam.Index, other))
			continue
		}
		byIndex[cam.Index] = name

		if cam.Topic != "" {
			if other, ok := byTopic[cam.Topic]; ok {
				result = multierror.Append(result, fmt.Errorf("camera %q: topic %s already used by %q", name, cam.Topic, other))
				continue
			}
			byTopic[cam.Topic] = name
		}
		if cam.Width < 0 || cam.Height < 0 || cam.FPS < 0 || cam.Bitrate < 0 {
			result = multierror.Append(result, fmt.Errorf("camera %q: negative capture setting", name))
		}
	}
	return result.ErrorOrNil()
}

// Indices returns the configured camera indices in ascending order.
func (f *CamerasFile) Indices() []int {
	indices := make([]int, 0, len(f.Cameras))
	for _, cam := range f.Cameras {
		indices = append(indices, cam.Index)
	}
	sort.Ints(indices)
	return indices
}

// ByIndex returns the entry for a camera index.
func (f *CamerasFile) ByIndex(index int) (CameraConfig, bool) {
	for _, cam := range f.Cameras {
		if cam.Index == index {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// names returns entry names sorted so validation errors are stable.
func (f *CamerasFile) names() []string {
	names := make([]string, 0, len(f.Cameras))
	for name := range f.Cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
