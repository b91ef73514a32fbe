package cli

import (
	"github.com/spf13/cobra"
)

func newMediaCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Sync the complete media tree to the bucket",
		Long: `Walks the media root and uploads every file that is missing from the
bucket or newer than its copy there, keeping the directory structure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.mirrorOptions()
			res, err := app.runMirror(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printMirrorResult(app.out, res, opts)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Bool("gzip", false, "Gzip CSS and JavaScript files larger than 1KB")
	flags.Bool("expires", false, "Set far future Expires and Cache-Control headers")
	flags.Bool("force", false, "Skip the modification time check and upload everything")
	flags.Bool("remove-missing", false, "Remove keys in the bucket for files missing locally")
	flags.Bool("dry-run", false, "Show what would be affected without changing anything")
	flags.StringSlice("exclude", nil, "Comma separated glob patterns of files and directories to skip")
	return cmd
}

func newPendingCommand(app *App) *cobra.Command {
	var skipDeletes bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Upload queued saves and apply queued deletes",
		Long: `Replays the pending queues recorded by the media server. Entries the
bucket rejects stay queued for the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.drainOptions(skipDeletes)
			res, err := app.runDrain(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printDrainResult(app.out, res, opts)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "Show what would be affected without changing anything")
	cmd.Flags().BoolVar(&skipDeletes, "skip-deletes", false, "Only upload, leave the delete queue alone")
	return cmd
}
