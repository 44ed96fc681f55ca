package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/issuesync/internal/config"
	"github.com/roach88/issuesync/internal/engine"
	"github.com/roach88/issuesync/internal/progress"
	"github.com/roach88/issuesync/internal/report"
	"github.com/roach88/issuesync/internal/store"
)

// app is everything a command needs for one project.
type app struct {
	project  *config.Project
	resolver *config.Resolver
	store    *store.Store
	reports  *report.Store
	engine   *engine.Engine
	logger   *slog.Logger
	closers  []io.Closer
}

// newLogger installs a text handler on w, at debug level under --verbose.
func newLogger(verbose bool, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// loadProject loads the project and home configs, without opening the store.
func loadProject(opts *RootOptions, logger *slog.Logger) (*config.Project, *config.Resolver, error) {
	project, err := config.LoadProject(opts.Dir)
	if err != nil {
		return nil, nil, err
	}
	homeDir, err := config.HomeDir()
	if err != nil {
		return nil, nil, err
	}
	home, err := config.LoadHome(homeDir)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("config loaded",
		"project", project.Name,
		"remotes", len(project.Config.Remotes),
		"auth_profiles", home.ProfileNames())
	return project, config.NewResolver(home, opts.LookupEnv), nil
}

// openApp loads config, opens the task store and builds the engine.
func openApp(opts *RootOptions, stderr io.Writer) (*app, error) {
	logger := newLogger(opts.Verbose, stderr)

	project, resolver, err := loadProject(opts, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening task store", "path", project.StorePath())
	st, err := store.Open(project.StorePath())
	if err != nil {
		return nil, err
	}

	a := &app{
		project:  project,
		resolver: resolver,
		store:    st,
		reports:  report.NewStore(project.ReportsDir(), project.Config.PersistReports),
		logger:   logger,
		closers:  []io.Closer{st},
	}

	var sinks progress.Multi
	for _, target := range project.Config.Progress {
		sink, err := progress.Open(target)
		if err != nil {
			a.Close()
			return nil, err
		}
		if c, ok := sink.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		sinks = append(sinks, sink)
	}

	engineOpts := []engine.EngineOption{
		engine.WithRegistry(engine.NewRegistry(project.LockDir())),
		engine.WithReportStore(a.reports),
		engine.WithLogger(logger),
	}
	if len(sinks) > 0 {
		engineOpts = append(engineOpts, engine.WithProgress(sinks))
	}
	if opts.IDs != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDs))
	}
	if opts.Now != nil {
		engineOpts = append(engineOpts, engine.WithNow(opts.Now))
	}
	a.engine = engine.New(st, opts.adapterFactory(), resolver, engineOpts...)
	return a, nil
}

// Close releases the store and any progress sink connections.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("error closing resources", "error", err)
		return err
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM so a run stops between items
// and still writes its partial report.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Warn("received signal, cancelling run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
