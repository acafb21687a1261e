package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/camlog/internal/nats"
)

// CreateRestartCmd creates the restart command.
func CreateRestartCmd() *cobra.Command {
	var url, reason string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the session of a running recorder",
		Long: `Asks a recorder that relays to NATS to stop its session and start a new ` +
			`one with the same cameras. Prints the new session id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := nats.RequestRestart(url, reason, timeout)
			if err != nil {
				return err
			}
			if !reply.OK {
				return errors.New(reply.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "nats-url", fmt.Sprintf("nats://127.0.0.1:%d", nats.DefaultPort), "NATS server URL")
	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded in the stop event")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}
