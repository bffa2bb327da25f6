package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alexjbarnes/authsession/internal/auth"
	"github.com/alexjbarnes/authsession/internal/config"
	apperrors "github.com/alexjbarnes/authsession/internal/errors"
	"github.com/alexjbarnes/authsession/internal/logging"
	"github.com/alexjbarnes/authsession/internal/oauth"
	"github.com/alexjbarnes/authsession/internal/tokenstore"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app is the wiring shared by every subcommand. It is filled in by the
// root command's PersistentPreRunE and released by close.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	errs    *apperrors.Manager
	store   tokenstore.Store
	session *auth.Manager
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "authsession",
		Short:         "Acquire, refresh and persist API credentials",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.AddCommand(
		newLoginCmd(a),
		newStatusCmd(a),
		newTokenCmd(a),
		newLogoutCmd(a),
	)

	return root, a
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.NewLogger(cfg.Environment, cfg.LogLevel)
	a.logger.Debug("authsession starting",
		slog.String("version", Version),
		slog.String("token_store", cfg.TokenStore),
	)

	opts := []apperrors.ManagerOption{
		apperrors.WithCounterCapacity(cfg.ErrorCounterCapacity),
	}

	if cfg.ErrorReportURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		opts = append(opts, apperrors.WithReporter(apperrors.NewHTTPReporter(cfg.ErrorReportURL, client)))
	}

	errs, err := apperrors.NewManager(a.logger, opts...)
	if err != nil {
		return fmt.Errorf("creating error manager: %w", err)
	}

	a.errs = errs

	store, err := tokenstore.New(cfg.TokenStoreConfig(), a.logger)
	if err != nil {
		// Without a token store nothing else can work.
		errs.HandleFatalError(fmt.Errorf("opening token store: %w", err))
		return err
	}

	a.store = store

	if f, ok := store.(*tokenstore.File); ok {
		// Without the watcher the store still works but may miss writes
		// from other processes.
		if err := f.StartWatch(ctx); err != nil {
			errs.HandleError(fmt.Errorf("starting token store watcher: %w", err),
				apperrors.WithCategory(apperrors.CategoryFileSystem),
				apperrors.WithLevel(apperrors.LevelWarning))
		}
	}

	prompter := &oauth.LoopbackPrompter{Logger: a.logger}
	flow := oauth.NewFlow(prompter, oauth.WithLogger(a.logger))

	a.session = auth.NewManager(cfg.AuthConfig(), store, flow,
		auth.WithLogger(a.logger),
		auth.WithErrorHandler(errs),
	)

	return nil
}

func (a *app) close() error {
	if a.errs != nil {
		a.errs.Flush()
	}

	if a.store != nil {
		store := a.store
		a.store = nil

		if err := store.Close(); err != nil {
			return fmt.Errorf("closing token store: %w", err)
		}
	}

	return nil
}

// guard runs fn with panics routed to the error manager. A panicking
// command fails with errCommandPanicked.
func (a *app) guard(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if r := recover(); r != nil {
				a.errs.HandleUncaughtException(&apperrors.PanicError{Value: r, Stack: string(debug.Stack())})
				err = fmt.Errorf("%s: %w: %v", cmd.Name(), errCommandPanicked, r)
			}
		}()

		return fn(cmd.Context(), cmd, args)
	}
}
