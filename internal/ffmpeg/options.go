package ffmpeg

import (
	"fmt"
	"strings"
)

// OptionType represents a strongly typed FFmpeg input option
type OptionType string

// FFmpeg option constants
const (
	OptionLowLatency         OptionType = "low_latency"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
)

// ExclusiveGroup represents a group of mutually exclusive options
type ExclusiveGroup string

const (
	GroupThreadQueue ExclusiveGroup = "thread_queue"
)

// Option describes an available option.
type Option struct {
	Key            OptionType
	Description    string
	ExclusiveGroup ExclusiveGroup
}

// AllOptions lists every supported option.
var AllOptions = []Option{
	{Key: OptionLowLatency, Description: "Disable input buffering and enable low delay flags"},
	{Key: OptionWallclockTimestamp, Description: "Use wallclock as input timestamps"},
	{Key: OptionIgnoreErrors, Description: "Continue despite stream errors"},
	{Key: OptionThreadQueue1024, Description: "Use 1024 thread queue size", ExclusiveGroup: GroupThreadQueue},
	{Key: OptionThreadQueue4096, Description: "Use 4096 thread queue size", ExclusiveGroup: GroupThreadQueue},
}

// GetOptionByKey returns an option by its key
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// ParseOptions converts option names from configuration.
func ParseOptions(names []string) ([]OptionType, error) {
	options := make([]OptionType, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if GetOptionByKey(OptionType(name)) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", name)
		}
		options = append(options, OptionType(name))
	}
	return options, ValidateOptions(options)
}

// ValidateOptions checks for exclusive group violations
func ValidateOptions(selected []OptionType) error {
	seen := make(map[ExclusiveGroup]OptionType)
	for _, key := range selected {
		opt := GetOptionByKey(key)
		if opt == nil {
			return fmt.Errorf("unknown ffmpeg option %q", key)
		}
		if opt.ExclusiveGroup == "" {
			continue
		}
		if other, ok := seen[opt.ExclusiveGroup]; ok {
			return fmt.Errorf("options %q and %q are mutually exclusive", other, key)
		}
		seen[opt.ExclusiveGroup] = key
	}
	return nil
}

// ApplyOptionsToCommand writes input options to a command string builder
func ApplyOptionsToCommand(options []OptionType, cmd *strings.Builder) []OptionType {
	var applied []OptionType
	var fflags []string

	for _, option := range options {
		switch option {
		case OptionLowLatency:
			fflags = append(fflags, "+nobuffer")
			cmd.WriteString(" -flags +low_delay")
		case OptionWallclockTimestamp:
			cmd.WriteString(" -use_wallclock_as_timestamps 1")
		case OptionIgnoreErrors:
			cmd.WriteString(" -err_detect ignore_err")
		case OptionThreadQueue1024:
			cmd.WriteString(" -thread_queue_size 1024")
		case OptionThreadQueue4096:
			cmd.WriteString(" -thread_queue_size 4096")
		default:
			continue
		}
		applied = append(applied, option)
	}

	if len(fflags) > 0 {
		cmd.WriteString(" -fflags " + strings.Join(fflags, ""))
	}

	return applied
}
