package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smazurov/camlog/pkg/linuxav/v4l2"
)

var listDevices = v4l2.ListDevices

// CreateDevicesCmd creates the devices command, which lists the capture
// devices and the camera index each one answers to.
func CreateDevicesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := listDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if devices == nil {
					devices = []v4l2.Device{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "no capture devices found")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CAMERA\tPATH\tNAME\tFORMATS\tID")
			for _, dev := range devices {
				camera := "-"
				if dev.Index >= 0 {
					camera = fmt.Sprint(dev.Index)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", camera, dev.Path, dev.Name, formatList(dev), dev.ID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func formatList(dev v4l2.Device) string {
	names := make([]string, 0, len(dev.Formats))
	for _, f := range dev.Formats {
		if f.Emulated {
			continue
		}
		names = append(names, f.FourCC)
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
