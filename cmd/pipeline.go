package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/camlog/internal/recorder"
	"github.com/smazurov/camlog/internal/sources"
)

// CreatePipelineCmd creates the pipeline command.
func CreatePipelineCmd() *cobra.Command {
	var flags CaptureFlags

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Print the capture command for each camera",
		Long: `Prints the ffmpeg command line or GStreamer pipeline that recording would ` +
			`run for each selected camera, along with its journal topic. Nothing is started.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.Resolve()
			if err != nil {
				return err
			}

			plan := recorder.Plan{
				Cameras:      c.Indices,
				TopicPattern: flags.TopicPattern,
				Topics:       c.Topics,
			}

			out := cmd.OutOrStdout()
			for _, index := range c.Indices {
				desc, err := sources.Describe(c.Sources, index)
				if err != nil {
					return fmt.Errorf("camera %d: %w", index, err)
				}
				fmt.Fprintf(out, "# camera %d -> %s\n%s\n", index, plan.Topic(index), desc)
			}
			return nil
		},
	}

	BindCaptureFlags(cmd.Flags(), &flags)
	return cmd
}
