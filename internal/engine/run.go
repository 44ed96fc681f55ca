package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/progress"
	"github.com/roach88/issuesync/internal/report"
)

// AdapterFactory builds the adapter for a remote from resolved credentials.
// It must not perform network I/O.
type AdapterFactory func(remote *ir.RemoteConfig, creds adapter.Credentials) (adapter.Adapter, error)

// CredentialProvider resolves auth profiles. Implemented by config.Resolver.
type CredentialProvider interface {
	ProfileFor(remote *ir.RemoteConfig, override string) string
	Resolve(profile string) (adapter.Credentials, error)
}

// Options controls one run.
type Options struct {
	// Project is the local project that push enumerates and pull creates into.
	Project string
	// DryRun computes the report without any mutating call.
	DryRun bool
	// AuthProfile overrides the remote's auth_profile.
	AuthProfile string
	// Workers > 1 reconciles items in parallel. Default is sequential.
	Workers int
	// Strict stops the run at the first item failure with status failed.
	Strict bool
	// Persist saves the report to the engine's report store.
	Persist bool
}

// Engine runs reconciliations. One Engine may serve many runs; runs for
// different remotes may overlap, runs for the same remote may not.
type Engine struct {
	store      TaskStore
	adapters   AdapterFactory
	creds      CredentialProvider
	registry   *Registry
	reports    *report.Store
	sink       progress.Sink
	logger     *slog.Logger
	ids        ir.IDGenerator
	now        func() time.Time
	retry      adapter.Policy
	fetchLimit int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRegistry sets the run registry (default: in-process only).
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithReportStore sets where reports are persisted.
func WithReportStore(s *report.Store) EngineOption {
	return func(e *Engine) { e.reports = s }
}

// WithProgress sets the progress sink.
func WithProgress(s progress.Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator sets the run id generator (default UUIDv7).
func WithIDGenerator(g ir.IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithNow sets the wall clock used for report timestamps.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithRetryPolicy sets the remote call retry policy.
func WithRetryPolicy(p adapter.Policy) EngineOption {
	return func(e *Engine) { e.retry = p }
}

// WithFetchLimit caps pull enumeration (default adapter.DefaultFetchLimit).
func WithFetchLimit(n int) EngineOption {
	return func(e *Engine) { e.fetchLimit = n }
}

// New creates an Engine.
func New(store TaskStore, adapters AdapterFactory, creds CredentialProvider, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		adapters:   adapters,
		creds:      creds,
		registry:   NewRegistry(""),
		logger:     slog.Default(),
		ids:        ir.UUIDv7Generator{},
		now:        time.Now,
		retry:      adapter.DefaultPolicy(),
		fetchLimit: adapter.DefaultFetchLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one reconciliation of remote in the given direction.
//
// The returned report is never nil. The error is non-nil when the run did
// not complete: a fatal error (status failed, no results), a strict-mode
// item failure (status failed) or cancellation (status cancelled, partial
// results). Item failures alone leave status ok and a nil error.
func (e *Engine) Run(ctx context.Context, remote *ir.RemoteConfig, direction ir.Direction, opts Options) (*ir.SyncRunReport, error) {
	runID := e.ids.Generate()
	builder := report.NewBuilder(runID, remote.Name, direction, opts.Project, opts.DryRun, e.now)
	emitter := progress.NewEmitter(e.sink, e.logger, runID, remote.Name, direction)
	logger := e.logger.With("run_id", runID, "remote", remote.Name, "direction", direction)

	fatal := func(err error) (*ir.SyncRunReport, error) {
		logger.Error("sync failed", "code", ir.CodeOf(err), "error", err)
		emitter.Failed(ctx, err.Error())
		rep := builder.Fail(err)
		e.persist(logger, rep, opts)
		return rep, err
	}

	if !ir.ValidDirections[direction] {
		return fatal(ir.Errorf(ir.CodeConfig, "unknown direction %q", direction))
	}
	if opts.Project == "" {
		return fatal(ir.Errorf(ir.CodeConfig, "a local project is required"))
	}

	release, err := e.registry.Acquire(remote.Name)
	if err != nil {
		return fatal(err)
	}
	defer release()

	logger.Info("sync started", "project", opts.Project, "dry_run", opts.DryRun, "workers", opts.Workers)
	emitter.Started(ctx)

	_, remoteAdapter, err := e.connect(remote, opts, logger)
	if err != nil {
		return fatal(err)
	}

	store := e.store
	if opts.Workers > 1 {
		store = newLockedStore(store)
	}
	if opts.DryRun {
		remoteAdapter = dryAdapter{inner: remoteAdapter}
		store = dryStore{inner: store}
	}
	rec := &Reconciler{
		Provider: remote.Provider,
		Rules:    remote.Mapping,
		Project:  opts.Project,
		Store:    store,
		Remote:   remoteAdapter,
		DryRun:   opts.DryRun,
		Logger:   logger,
	}

	items, err := e.enumerate(ctx, rec, remote, direction, builder, logger)
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(ctx, logger, emitter, builder, opts)
		}
		return fatal(err)
	}

	stopErr := e.reconcileAll(ctx, rec, items, opts, builder, emitter, logger)

	switch {
	case stopErr != nil:
		logger.Error("sync stopped on item failure", "error", stopErr)
		emitter.Failed(ctx, stopErr.Error())
		rep := builder.Finish(ir.RunStatusFailed, stopErr)
		e.persist(logger, rep, opts)
		return rep, stopErr
	case ctx.Err() != nil:
		return e.cancelled(ctx, logger, emitter, builder, opts)
	}

	rep := builder.Finish(ir.RunStatusOK, nil)
	logger.Info("sync completed",
		"created", rep.Counts.Created,
		"updated", rep.Counts.Updated,
		"skipped", rep.Counts.Skipped,
		"failed", rep.Counts.Failed,
		"truncated", rep.Truncated)
	emitter.Completed(ctx, rep.Counts)
	e.persist(logger, rep, opts)
	return rep, nil
}

// connect resolves credentials and builds the adapter, returning it both
// bare and wrapped with the retry policy.
func (e *Engine) connect(remote *ir.RemoteConfig, opts Options, logger *slog.Logger) (adapter.Adapter, adapter.Adapter, error) {
	profile := e.creds.ProfileFor(remote, opts.AuthProfile)
	creds, err := e.creds.Resolve(profile)
	if err != nil {
		if ir.CodeOf(err) == ir.CodeInternal {
			err = ir.WrapError(ir.CodeAuth, "resolve auth profile "+profile, err)
		}
		return nil, nil, err
	}
	logger.Debug("credentials resolved", "profile", creds.String())

	a, err := e.adapters(remote, creds)
	if err != nil {
		if ir.CodeOf(err) == ir.CodeInternal {
			err = ir.WrapError(ir.CodeConfig, "build adapter", err)
		}
		return nil, nil, err
	}
	policy := e.retry
	policy.Logger = logger
	return a, adapter.WithRetry(a, policy), nil
}

// item is one unit of work: a remote issue (pull) or a local task (push).
type item struct {
	pull  bool
	issue ir.RemoteIssue
	task  ir.Task
}

func (it item) reconcile(ctx context.Context, rec *Reconciler) ir.TaskResult {
	if it.pull {
		return rec.Pull(ctx, it.issue)
	}
	return rec.Push(ctx, it.task)
}

func (e *Engine) enumerate(ctx context.Context, rec *Reconciler, remote *ir.RemoteConfig, direction ir.Direction, b *report.Builder, logger *slog.Logger) ([]item, error) {
	var items []item
	switch direction {
	case ir.DirectionPull:
		seq := adapter.FetchIssues(ctx, rec.Remote, remote.Filter, e.fetchLimit)
		issues, err := seq.Collect()
		if err != nil {
			return nil, fmt.Errorf("enumerate remote issues: %w", err)
		}
		if seq.Truncated() {
			logger.Warn("remote enumeration truncated", "limit", e.fetchLimit, "fetched", len(issues))
			b.SetTruncated(true)
		}
		for _, issue := range issues {
			items = append(items, item{pull: true, issue: issue})
		}
	case ir.DirectionPush:
		tasks, err := rec.Store.ListTasksForProject(ctx, rec.Project)
		if err != nil {
			return nil, fmt.Errorf("enumerate local tasks: %w", err)
		}
		for _, task := range tasks {
			items = append(items, item{task: task})
		}
	}
	logger.Debug("items enumerated", "total", len(items))
	return items, nil
}

// errStrictStop ends a strict run at its first item failure.
var errStrictStop = errors.New("strict mode: stopping at first item failure")

// reconcileAll processes every item, sequentially or with bounded workers.
// Cancellation is checked between items. Returns a non-nil error only when
// strict mode stopped the run.
func (e *Engine) reconcileAll(ctx context.Context, rec *Reconciler, items []item, opts Options, b *report.Builder, em *progress.Emitter, logger *slog.Logger) error {
	total := len(items)

	var (
		mu        sync.Mutex
		processed int
		stopErr   error
	)
	record := func(res ir.TaskResult) bool {
		mu.Lock()
		defer mu.Unlock()
		b.Add(res)
		processed++
		em.Progress(ctx, processed, total)
		logger.Debug("item reconciled",
			"task_id", res.TaskID,
			"external_id", res.ExternalID,
			"outcome", res.Outcome,
			"code", res.Code)
		if opts.Strict && res.Outcome == ir.OutcomeFailed && stopErr == nil {
			stopErr = &ir.Error{
				Code:    res.Code,
				Message: fmt.Sprintf("stopped at %s: %s", res.SortKey(), res.Reason),
				Err:     errStrictStop,
			}
			return false
		}
		return true
	}

	if opts.Workers <= 1 {
		for _, it := range items {
			if ctx.Err() != nil {
				break
			}
			if !record(it.reconcile(ctx, rec)) {
				break
			}
		}
		return stopErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, it := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if !record(it.reconcile(gctx, rec)) {
				return errStrictStop
			}
			return nil
		})
	}
	_ = g.Wait()
	return stopErr
}

func (e *Engine) cancelled(ctx context.Context, logger *slog.Logger, em *progress.Emitter, b *report.Builder, opts Options) (*ir.SyncRunReport, error) {
	err := ctx.Err()
	logger.Warn("sync cancelled", "processed", b.Len())
	em.Failed(ctx, "cancelled: "+err.Error())
	rep := b.Finish(ir.RunStatusCancelled, err)
	e.persist(logger, rep, opts)
	return rep, err
}

func (e *Engine) persist(logger *slog.Logger, rep *ir.SyncRunReport, opts Options) {
	if !opts.Persist || e.reports == nil {
		return
	}
	rel, err := e.reports.Save(rep)
	if err != nil {
		logger.Warn("report not saved", "error", err)
		return
	}
	if rel != "" {
		logger.Info("report saved", "path", rel)
	}
}
