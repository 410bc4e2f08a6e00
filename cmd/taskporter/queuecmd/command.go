// Package queuecmd inspects and repairs the task queue from the CLI.
package queuecmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quailyquaily/taskporter/internal/setup"
	"github.com/quailyquaily/taskporter/queue"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the task queue",
	}
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newFailCmd())
	cmd.AddCommand(newStatsCmd())
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := setup.OpenQueueStore()
			if err != nil {
				return err
			}
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			var entries []queue.Entry
			if strings.TrimSpace(status) == "" {
				for _, s := range []string{
					queue.StatusPending, queue.StatusProcessing,
					queue.StatusEditing, queue.StatusCompleted, queue.StatusFailed,
				} {
					batch, err := store.ListByStatus(cmd.Context(), s, limit)
					if err != nil {
						return err
					}
					entries = append(entries, batch...)
				}
			} else {
				entries, err = store.ListByStatus(cmd.Context(), status, limit)
				if err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCHANNEL\tTASKS\tRETRIES\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					e.ID, e.Status, e.ChannelID, len(e.Tasks), e.RetryCount, truncate(e.LastError, 48))
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("status", "", "Filter by status: pending|processing|editing|completed|failed.")
	cmd.Flags().Int("limit", 50, "Max entries per status.")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Print one entry with its tasks and sync history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := setup.OpenQueueStore()
			if err != nil {
				return err
			}
			entry, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			history, err := store.HistoryForEntry(cmd.Context(), entry.ID)
			if err != nil {
				return err
			}
			out := struct {
				Entry   queue.Entry           `json:"entry"`
				History []queue.HistoryRecord `json:"history,omitempty"`
			}{Entry: entry, History: history}
			raw, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Reset a failed entry so the sweep picks it up again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := setup.OpenQueueStore()
			if err != nil {
				return err
			}
			entry, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if entry.Status == queue.StatusCompleted {
				return fmt.Errorf("entry %s is completed; nothing to retry", entry.ID)
			}
			status := queue.StatusPending
			retries := 0
			updated, err := store.Update(cmd.Context(), entry.ID, queue.Patch{
				Status:     &status,
				RetryCount: &retries,
			})
			if err != nil {
				return err
			}
			fmt.Printf("entry %s reset to %s\n", updated.ID, updated.Status)
			return nil
		},
	}
}

func newFailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fail <entry-id>",
		Short: "Mark an entry failed so it stops retrying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := setup.OpenQueueStore()
			if err != nil {
				return err
			}
			entry, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if entry.Status == queue.StatusCompleted {
				return fmt.Errorf("entry %s is already completed", entry.ID)
			}
			status := queue.StatusFailed
			reason := "failed by operator"
			updated, err := store.Update(cmd.Context(), entry.ID, queue.Patch{
				Status:    &status,
				LastError: &reason,
			})
			if err != nil {
				return err
			}
			fmt.Printf("entry %s marked %s\n", updated.ID, updated.Status)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print entry counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := setup.OpenQueueStore()
			if err != nil {
				return err
			}
			counts, err := store.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, s := range []string{
				queue.StatusPending, queue.StatusProcessing,
				queue.StatusEditing, queue.StatusCompleted, queue.StatusFailed,
			} {
				fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
			}
			return w.Flush()
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
