package cli

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newQueueCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or edit the pending queues",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queued uploads and deletes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := app.pendingQueue()
			if err != nil {
				return err
			}
			uploads, deletes, err := queue.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if len(uploads) == 0 && len(deletes) == 0 {
				fmt.Fprintln(app.out, "Nothing pending.")
				return nil
			}

			table := tablewriter.NewWriter(app.out)
			table.SetHeader([]string{"Action", "Key", "Revision"})
			table.SetBorder(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			for _, entry := range uploads {
				table.Append([]string{"upload", entry.Key, strconv.FormatInt(entry.Rev, 10)})
			}
			for _, key := range deletes {
				table.Append([]string{"delete", key, "-"})
			}
			table.Render()
			return nil
		},
	}

	drop := &cobra.Command{
		Use:   "drop NAME...",
		Short: "Forget queued entries without touching the bucket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := app.pendingQueue()
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := queue.Drop(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(app.out, "Dropped %s.\n", name)
			}
			return nil
		},
	}

	cmd.AddCommand(list, drop)
	return cmd
}
