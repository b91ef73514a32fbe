package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"s3sync/internal/drain"
	"s3sync/internal/mirror"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow, color.Bold)
	failColor = color.New(color.FgRed)
)

const dryRunNotice = "THIS IS A DRY RUN, NO ACTUAL CHANGES."

func printMirrorResult(w io.Writer, res mirror.Result, opts mirror.Options) {
	fmt.Fprintln(w)
	okColor.Fprintf(w, "%d files uploaded.\n", res.Uploaded)
	fmt.Fprintf(w, "%d files skipped.\n", res.Skipped)
	if opts.RemoveMissing {
		fmt.Fprintf(w, "%d keys removed from bucket.\n", res.Removed)
	}
	if res.Failed > 0 {
		failColor.Fprintf(w, "%d operations failed.\n", res.Failed)
	}
	if opts.DryRun {
		warnColor.Fprintln(w, dryRunNotice)
	}
}

func printDrainResult(w io.Writer, res drain.Result, opts drain.Options) {
	fmt.Fprintln(w)
	c := okColor
	if res.Remaining > 0 {
		c = failColor
	}
	c.Fprintf(w, "%d files uploaded (%d remaining).\n", res.Uploaded, res.Remaining)
	if !opts.SkipDeletes {
		c = okColor
		if res.RemainingDelete > 0 {
			c = failColor
		}
		c.Fprintf(w, "%d files deleted (%d remaining).\n", res.Deleted, res.RemainingDelete)
	}
	if opts.DryRun {
		warnColor.Fprintln(w, dryRunNotice)
	}
}
