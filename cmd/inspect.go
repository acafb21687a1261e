package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/camlog/internal/journal"
)

// CreateInspectCmd creates the inspect command.
func CreateInspectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect FILE.mcap",
		Short: "Summarize a journal file",
		Long:  `Reads every record of a journal and prints per-topic counts, identifiers and session metadata.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := journal.Summarize(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printSummary(out io.Writer, s *journal.Summary) error {
	fmt.Fprintf(out, "file:      %s\n", s.Path)
	fmt.Fprintf(out, "library:   %s\n", s.Library)
	fmt.Fprintf(out, "finalized: %t\n\n", s.Finalized)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tMESSAGES\tKEYFRAMES\tBYTES\tFIRST\tLAST\tDURATION")
	for _, t := range s.Topics {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			t.Topic, t.Messages, t.Keyframes, t.Bytes,
			t.FirstIdentifier, t.LastIdentifier,
			t.LastLogTime.Sub(t.FirstLogTime).Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	names := make([]string, 0, len(s.Metadata))
	for name := range s.Metadata {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "\n[%s]\n", name)
		keys := make([]string, 0, len(s.Metadata[name]))
		for k := range s.Metadata[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "%s = %s\n", k, s.Metadata[name][k])
		}
	}
	return nil
}
