package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	apphttp "s3sync/internal/http"
	"s3sync/internal/media"
	"s3sync/internal/scheduler"
)

func newServeCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the media API and run scheduled syncs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "Listen address")
	return cmd
}

func (a *App) serve(ctx context.Context) error {
	if err := a.cfg.ValidateMedia(); err != nil {
		return err
	}
	queue, err := a.pendingQueue()
	if err != nil {
		return err
	}
	if err := a.fs.MkdirAll(a.cfg.Media.Root, 0o755); err != nil {
		return err
	}

	sched, err := a.schedule(ctx)
	if err != nil {
		return err
	}

	store := media.New(queue, media.Config{
		Root:          a.cfg.Media.Root,
		LocalBaseURL:  a.cfg.Media.BaseURL,
		BucketBaseURL: a.cfg.BucketBaseURL(),
		Production:    a.cfg.Media.Production,
		Fs:            a.fs,
		Logger:        a.logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(store, queue, apphttp.Config{
		MediaRoot: a.cfg.Media.Root,
		Fs:        a.fs,
		JWTSecret: a.cfg.Server.JWTSecret,
		Logger:    a.logger,
	}).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("listening on %s", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if n := sched.Len(); n > 0 {
		a.logger.Infof("%d sync jobs scheduled", n)
	}
	sched.Start()
	defer sched.Stop()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	a.logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warnf("http shutdown: %v", err)
	}
	return nil
}

// schedule registers the configured periodic syncs.
func (a *App) schedule(ctx context.Context) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.logger)
	if a.cfg.Schedule.Media == "" && a.cfg.Schedule.Pending == "" {
		return sched, nil
	}
	if err := a.cfg.ValidateSync(); err != nil {
		return nil, err
	}

	err := sched.Add(ctx, "media", a.cfg.Schedule.Media, func(ctx context.Context) error {
		res, err := a.runMirror(ctx, a.mirrorOptions())
		if err != nil {
			return err
		}
		a.logger.WithField("job", "media").Infof("%d uploaded, %d skipped, %d removed, %d failed",
			res.Uploaded, res.Skipped, res.Removed, res.Failed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = sched.Add(ctx, "pending", a.cfg.Schedule.Pending, func(ctx context.Context) error {
		res, err := a.runDrain(ctx, a.drainOptions(false))
		if err != nil {
			return err
		}
		a.logger.WithField("job", "pending").Infof("%d uploaded (%d remaining), %d deleted (%d remaining)",
			res.Uploaded, res.Remaining, res.Deleted, res.RemainingDelete)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}
