package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/smazurov/camlog/internal/capture"
	"github.com/smazurov/camlog/internal/config"
)

func TestParseCameraList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []capture.CameraIndex
		wantErr bool
	}{
		{"single", "0", []capture.CameraIndex{0}, false},
		{"pair", "0,2", []capture.CameraIndex{0, 2}, false},
		{"spaces", " 1 , 3 ", []capture.CameraIndex{1, 3}, false},
		{"trailing comma", "4,", []capture.CameraIndex{4}, false},
		{"empty", "", nil, true},
		{"negative", "-1", nil, true},
		{"not a number", "front", nil, true},
		{"duplicate", "0,0", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCameraList(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCameraList(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCameraList(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseCameraList("1,1"); !errors.Is(err, capture.ErrDuplicateCamera) {
		t.Errorf("expected ErrDuplicateCamera, got %v", err)
	}
}

func TestResolveCameraSet(t *testing.T) {
	file := &config.CamerasFile{
		Version: 1,
		Cameras: map[string]config.CameraConfig{
			"front": {Index: 0, Topic: "/front/image/compressed", Device: "/dev/video2", Width: 1920},
			"rear":  {Index: 3},
		},
	}

	tests := []struct {
		name  string
		flags CaptureFlags
		file  *config.CamerasFile
		want  []capture.CameraIndex
	}{
		{"default", CaptureFlags{}, nil, []capture.CameraIndex{0}},
		{"camera", CaptureFlags{Camera: 2}, nil, []capture.CameraIndex{2}},
		{"dual", CaptureFlags{Camera: 1, Dual: true}, nil, []capture.CameraIndex{1, 2}},
		{"explicit list wins over dual", CaptureFlags{Camera: 1, Dual: true, Cameras: "5,0"}, nil, []capture.CameraIndex{0, 5}},
		{"cameras file", CaptureFlags{Camera: 7}, file, []capture.CameraIndex{0, 3}},
		{"explicit list wins over file", CaptureFlags{Cameras: "3"}, file, []capture.CameraIndex{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.flags.ResolveWith(tt.file)
			if err != nil {
				t.Fatalf("resolve error = %v", err)
			}
			if !reflect.DeepEqual(c.Indices, tt.want) {
				t.Errorf("Indices = %v, want %v", c.Indices, tt.want)
			}
		})
	}
}

func TestResolveAppliesCameraOverrides(t *testing.T) {
	file := &config.CamerasFile{
		Version: 1,
		Cameras: map[string]config.CameraConfig{
			"front": {Index: 0, Topic: "/front/image/compressed", Device: "/dev/video2", Width: 1920, Height: 1080},
			"rear":  {Index: 1, FPS: 5},
		},
	}

	c, err := CaptureFlags{Width: 640, Height: 480, FPS: 15}.ResolveWith(file)
	if err != nil {
		t.Fatal(err)
	}

	if c.Sources.Width != 640 || c.Sources.FPS != 15 {
		t.Errorf("shared settings not kept: %+v", c.Sources)
	}
	front := c.Sources.Cameras[0]
	if front.Device != "/dev/video2" || front.Width != 1920 || front.Height != 1080 {
		t.Errorf("front override = %+v", front)
	}
	if c.Sources.Cameras[1].FPS != 5 {
		t.Errorf("rear override = %+v", c.Sources.Cameras[1])
	}
	if c.Topics[0] != "/front/image/compressed" {
		t.Errorf("front topic = %q", c.Topics[0])
	}
	if _, ok := c.Topics[1]; ok {
		t.Error("rear should keep the default topic")
	}
}

func TestResolveLoadsCamerasFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cameras.toml")
	data := "version = 1\n[cameras.side]\nindex = 4\nfps = 10\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := CaptureFlags{CamerasFile: path}.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(c.Indices, []capture.CameraIndex{4}) {
		t.Errorf("Indices = %v", c.Indices)
	}

	if _, err := (CaptureFlags{CamerasFile: filepath.Join(t.TempDir(), "missing.toml")}).Resolve(); err == nil {
		t.Error("expected error for a missing cameras file")
	}
}
