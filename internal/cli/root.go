// Package cli implements the s3sync command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"s3sync/internal/cache"
	"s3sync/internal/config"
	"s3sync/internal/domain"
	"s3sync/internal/logging"
	"s3sync/internal/notify"
	"s3sync/internal/pending"
	"s3sync/internal/storage"
)

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"bucket":         "storage.bucket",
	"prefix":         "storage.prefix",
	"dir":            "media.root",
	"exclude":        "sync.exclude",
	"force":          "sync.force",
	"remove-missing": "sync.remove_missing",
	"dry-run":        "sync.dry_run",
	"gzip":           "sync.gzip",
	"expires":        "sync.expires",
	"verbosity":      "verbosity",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"cache-driver":   "cache.driver",
	"cache-path":     "cache.path",
	"addr":           "server.addr",
}

// App holds what the commands share for one invocation.
type App struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config

	out     io.Writer
	fs      afero.Fs
	logger  *logrus.Logger
	closers []io.Closer

	// OpenStore connects to the object store.
	OpenStore func(ctx context.Context, cfg config.Config) (storage.Service, error)
	// OpenCache opens the pending queue store.
	OpenCache func(cfg config.Config) (cache.Store, error)

	queue    *pending.Queue
	notifier notify.Notifier
}

func NewApp(out io.Writer) *App {
	return &App{
		v:         config.NewViper(),
		out:       out,
		fs:        afero.NewOsFs(),
		OpenStore: openS3,
		OpenCache: func(cfg config.Config) (cache.Store, error) { return cache.Open(cfg.Cache.Driver, cfg.Cache.Path) },
	}
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "s3sync",
		Short: "Sync a local media tree to an S3 bucket",
		Long: `s3sync mirrors a local media directory into an S3 bucket.

"media" walks the whole tree and uploads what changed; "pending" replays the
queue of saves and deletes recorded by the media server ("serve").`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.cfgFile, "config", "", "Path to configuration file")
	flags.IntP("verbosity", "v", 1, "0 = warnings only, 1 = progress, 2 = debug")
	flags.String("log-level", "", "Log level, overrides --verbosity")
	flags.String("log-file", "", "Also write logs to this rotating file")
	flags.StringP("bucket", "b", "", "The name of the bucket to sync to")
	flags.StringP("prefix", "p", "", "The prefix to prepend to keys in the bucket")
	flags.StringP("dir", "d", "", "The local media root")
	flags.String("cache-driver", "", "Pending queue store: sqlite or memory")
	flags.String("cache-path", "", "Pending queue database file")

	root.AddCommand(
		newMediaCommand(app),
		newPendingCommand(app),
		newQueueCommand(app),
		newServeCommand(app),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, closer, err := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Verbosity: cfg.Verbosity,
		File:      cfg.Log.File,
	}, os.Stderr)
	if err != nil {
		return err
	}
	a.logger = logger
	a.closers = append(a.closers, closer)
	return nil
}

func (a *App) teardown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.logger != nil {
			a.logger.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(os.Stdout)
	defer app.teardown()
	if err := NewRootCommand(app).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, domain.ErrConfigMissing) {
			return 2
		}
		return 1
	}
	return 0
}
