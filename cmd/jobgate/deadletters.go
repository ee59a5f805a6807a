package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/jobgate/internal/app"
	"github.com/mihaimyh/jobgate/pkg/billing/deferred"
)

var deadLetterLimit int

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List deferred billing events that exhausted their retries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		queue, closeQueue, err := app.OpenQueue(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closeQueue()

		entries, err := queue.DeadLetters(cmd.Context(), deadLetterLimit)
		if err != nil {
			return err
		}
		return printDeadLetters(cmd, entries)
	},
}

func init() {
	deadLettersCmd.Flags().IntVar(&deadLetterLimit, "limit", 100, "maximum entries to list")
}

func printDeadLetters(cmd *cobra.Command, entries []*deferred.Entry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tTYPE\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			e.EventID, e.EventType, e.Attempts, e.CreatedAt.Format(time.RFC3339), e.LastError)
	}
	return w.Flush()
}
