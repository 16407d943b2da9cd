package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/civicroute/internal/config"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions

	// Listener overrides cfg.Addr (for testing).
	Listener net.Listener

	// Ready, if set, receives the bound address once the server is up.
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assignment API",
		Long: `Run the assignment engine behind its HTTP API.

On start the ledger is scanned and every pending offer deadline is re-armed,
so a restart never loses an escalation. Every setting can come from a flag,
a CIVICROUTE_* environment variable or the --config file.

Examples:
  civicroute serve
  civicroute serve --store sqlite --database ./civicroute.db --offer-window 24h
  CIVICROUTE_STORE=postgres CIVICROUTE_DATABASE=postgres://... civicroute serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	log, zlog := newLoggers(cmd.ErrOrStderr(), opts.Verbose)
	defer func() { _ = zlog.Sync() }()

	cfg, err := config.Load(opts.ConfigFile, cmd.Flags())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := BuildApp(ctx, cfg, log, zlog)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("error closing resources", "error", err)
		}
	}()

	armed, err := app.Controller.Resume(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resume deadlines", err)
	}

	ln := opts.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.Addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
	}
	srv := &http.Server{Handler: app.Handler, ReadHeaderTimeout: 5 * time.Second}

	log.Info("server starting",
		"addr", ln.Addr().String(),
		"store", cfg.Store,
		"offer_window", cfg.OfferWindow,
		"resumed", armed,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives the signal so queued notifications drain.
	g.Go(func() error {
		return app.Dispatcher.Run(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// No new timers or requests; let the dispatcher finish the queue.
		app.Controller.Close()
		app.Dispatcher.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	log.Info("server stopped gracefully")
	return nil
}
