package journal

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/smazurov/camlog/internal/capture"
)

// DefaultNamePattern names a session file after its start time.
const DefaultNamePattern = "camlog_{time}.mcap"

// TimeLayout formats {time} in name patterns.
const TimeLayout = "20060102-150405"

// ResolvePath expands {time} and {cameras} in pattern and joins it with dir.
// {cameras} becomes the sorted camera indices joined by "-".
func ResolvePath(dir, pattern string, start time.Time, indices []capture.CameraIndex) string {
	if pattern == "" {
		pattern = DefaultNamePattern
	}

	sorted := append([]capture.CameraIndex(nil), indices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, idx := range sorted {
		parts[i] = idx.String()
	}

	name := strings.NewReplacer(
		"{time}", start.Format(TimeLayout),
		"{cameras}", strings.Join(parts, "-"),
	).Replace(pattern)

	if !strings.HasSuffix(name, ".mcap") {
		name += ".mcap"
	}
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// Topic expands {index} in a topic pattern.
func Topic(pattern string, index capture.CameraIndex) string {
	if pattern == "" {
		return capture.DefaultTopic(index)
	}
	if !strings.Contains(pattern, "{index}") {
		return pattern
	}
	return strings.ReplaceAll(pattern, "{index}", fmt.Sprint(int(index)))
}
