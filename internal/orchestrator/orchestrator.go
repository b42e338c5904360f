// Package orchestrator hosts the coordinating loop: it sweeps source
// health to schedule repairs, claims tasks from the persistent queue,
// and dispatches them to the acquire, repair, and refresh handlers.
// Exactly one orchestrator runs per database.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"forager/internal/ai"
	"forager/internal/artifact"
	"forager/internal/config"
	"forager/internal/doctor"
	"forager/internal/fetch"
	"forager/internal/health"
	"forager/internal/registry"
	"forager/internal/storage"
	"forager/internal/types"
)

// Default enqueue priorities. Repairs outrank acquisitions, which
// outrank routine refreshes; a freshly acquired source gets one
// high-priority initial refresh.
const (
	PriorityRefresh        = 3
	PriorityAcquire        = 5
	PriorityRepair         = 8
	PriorityInitialRefresh = 10
)

// Orchestrator is the coordinating loop.
type Orchestrator struct {
	id        string
	store     storage.Storage
	health    *health.Tracker
	oracle    *ai.Oracle
	artifacts *artifact.Store
	registry  *registry.Registry
	doctor    *doctor.Doctor
	fetcher   *fetch.Client
	cfg       *config.Config

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New wires an Orchestrator over the given store and oracle.
func New(cfg *config.Config, store storage.Storage, oracle *ai.Oracle) (*Orchestrator, error) {
	artifacts, err := artifact.New(cfg.RegistryDir, cfg.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	tracker := health.New(store, cfg)
	return &Orchestrator{
		id:        uuid.New().String(),
		store:     store,
		health:    tracker,
		oracle:    oracle,
		artifacts: artifacts,
		registry:  registry.New(artifacts),
		doctor:    doctor.New(store, tracker, oracle, artifacts, cfg),
		fetcher:   fetch.New(cfg.FetchTimeout),
		cfg:       cfg,
	}, nil
}

// ID returns this orchestrator instance's identifier.
func (o *Orchestrator) ID() string { return o.id }

// Registry exposes the plugin registry, mainly for inspection commands.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Health exposes the health tracker for operator commands.
func (o *Orchestrator) Health() *health.Tracker { return o.health }

// Doctor exposes the healing pipeline for operator commands.
func (o *Orchestrator) Doctor() *doctor.Doctor { return o.doctor }

// Startup performs crash recovery and loads the plugin registry. Call
// once before Run or RunOnce.
func (o *Orchestrator) Startup(ctx context.Context) error {
	reaped, err := o.store.ReapStaleTasks(ctx, o.cfg.StaleTaskAge)
	if err != nil {
		return fmt.Errorf("failed to reap stale tasks: %w", err)
	}
	if reaped > 0 {
		fmt.Printf("[orchestrator %s] recovered %d stale tasks\n", shortID(o.id), reaped)
	}
	if err := o.registry.Rebuild(); err != nil {
		return fmt.Errorf("failed to load plugin registry: %w", err)
	}
	return nil
}

// Run starts the event loop and blocks until Stop is called or ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.mu.Unlock()

	defer close(o.doneCh)
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	fmt.Printf("[orchestrator %s] started (poll %v)\n", shortID(o.id), o.cfg.PollInterval)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		worked := o.tick(ctx)

		if worked {
			// More work may be queued; only check for shutdown
			// before the next iteration.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.stopCh:
				return nil
			default:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.stopCh:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop signals the event loop to exit and waits for it to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	stopCh, doneCh := o.stopCh, o.doneCh
	o.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// RunOnce performs a single iteration: one health sweep and at most one
// task. Used by the --once mode and by tests.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	o.tick(ctx)
}

// tick is one loop iteration: sweep health, then claim and dispatch at
// most one task. Returns true if a task was processed.
func (o *Orchestrator) tick(ctx context.Context) bool {
	o.healthSweep(ctx)

	task, err := o.store.ClaimNextTask(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error claiming task: %v\n", err)
		return false
	}
	if task == nil {
		return false
	}
	o.dispatch(ctx, task)
	return true
}

// healthSweep releases expired quarantines and schedules repairs for
// sources that need fixing and still have fix budget, skipping any with
// a repair already pending.
func (o *Orchestrator) healthSweep(ctx context.Context) {
	sources, err := o.health.DegradedSources(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error sweeping source health: %v\n", err)
		return
	}

	for _, h := range sources {
		if _, err := o.health.ExpireIfDue(ctx, h.SourceName); err != nil {
			fmt.Fprintf(os.Stderr, "error expiring quarantine for %s: %v\n", h.SourceName, err)
			continue
		}

		// A quarantine that has not elapsed suspends the source; no
		// automated repair until the window expires.
		quarantined, err := o.health.IsQuarantined(ctx, h.SourceName)
		if err != nil || quarantined {
			continue
		}

		ok, err := o.health.CanAttemptFix(ctx, h.SourceName)
		if err != nil || !ok {
			continue
		}
		pending, err := o.store.PendingTaskForTarget(ctx, types.TaskRepair, h.SourceName)
		if err != nil || pending {
			continue
		}
		if _, err := o.EnqueueRepair(ctx, h.SourceName); err != nil {
			fmt.Fprintf(os.Stderr, "error scheduling repair for %s: %v\n", h.SourceName, err)
		}
	}
}

// dispatch runs the handler for a claimed task and records the outcome.
// A handler error fails the task; remaining retry budget re-enqueues a
// fresh task with the budget decremented.
func (o *Orchestrator) dispatch(ctx context.Context, task *types.Task) {
	fmt.Printf("[orchestrator %s] task %d: %s %s\n", shortID(o.id), task.ID, task.Type, task.Target)

	var err error
	switch task.Type {
	case types.TaskAcquire:
		err = o.handleAcquire(ctx, task)
	case types.TaskRepair:
		err = o.handleRepair(ctx, task)
	case types.TaskRefresh:
		err = o.handleRefresh(ctx, task)
	default:
		err = fmt.Errorf("unknown task type %s", task.Type)
	}

	if err == nil {
		if cerr := o.store.CompleteTask(ctx, task.ID, types.TaskCompleted, ""); cerr != nil {
			fmt.Fprintf(os.Stderr, "error completing task %d: %v\n", task.ID, cerr)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "task %d failed: %v\n", task.ID, err)
	if cerr := o.store.CompleteTask(ctx, task.ID, types.TaskFailed, err.Error()); cerr != nil {
		fmt.Fprintf(os.Stderr, "error failing task %d: %v\n", task.ID, cerr)
	}

	if o.shouldRetry(task, err) {
		if _, rerr := o.store.EnqueueTask(ctx, task.Type, task.Target, task.Priority, task.MaxRetries-1); rerr != nil {
			fmt.Fprintf(os.Stderr, "error re-enqueueing task %d: %v\n", task.ID, rerr)
		} else {
			fmt.Printf("[orchestrator %s] task %d re-enqueued (%d retries left)\n", shortID(o.id), task.ID, task.MaxRetries-1)
		}
	}
}

// shouldRetry limits retries to tasks with budget left, and never
// retries outcomes that retrying cannot change.
func (o *Orchestrator) shouldRetry(task *types.Task, err error) bool {
	if task.MaxRetries <= 0 {
		return false
	}
	if errors.Is(err, types.ErrCircuitOpen) || errors.Is(err, types.ErrSourceDead) {
		return false
	}
	return true
}

// handleAcquire builds a brand-new source from a target URL: sample the
// endpoint, produce a blueprint, generate a plugin, then stage,
// validate, and promote it like any other artifact.
func (o *Orchestrator) handleAcquire(ctx context.Context, task *types.Task) error {
	sample, err := o.fetcher.Sample(ctx, task.Target)
	if err != nil {
		return fmt.Errorf("failed to sample %s: %w", task.Target, err)
	}

	bp, err := o.oracle.Analyze(ctx, nameHint(task.Target), task.Target, sample)
	if err != nil {
		return err
	}

	code, err := o.oracle.GeneratePlugin(ctx, bp)
	if err != nil {
		return err
	}
	if err := registry.CheckSyntax(code); err != nil {
		return fmt.Errorf("generated plugin for %s rejected: %w", bp.SourceName, err)
	}
	if err := o.artifacts.WriteStaged(bp.SourceName, code); err != nil {
		return err
	}
	if _, err := registry.LoadSource(bp.SourceName, code); err != nil {
		_ = o.artifacts.RemoveStaged(bp.SourceName)
		return fmt.Errorf("generated plugin for %s failed validation: %w", bp.SourceName, err)
	}
	if err := o.artifacts.Promote(bp.SourceName); err != nil {
		return err
	}
	if err := o.registry.Rebuild(); err != nil {
		return err
	}

	if err := o.health.RecordSuccess(ctx, bp.SourceName); err != nil {
		return err
	}
	if _, err := o.store.EnqueueTask(ctx, types.TaskRefresh, bp.SourceName, PriorityInitialRefresh, o.cfg.DefaultMaxRetries); err != nil {
		return fmt.Errorf("acquired %s but failed to schedule first refresh: %w", bp.SourceName, err)
	}

	fmt.Printf("[orchestrator %s] acquired source %s from %s\n", shortID(o.id), bp.SourceName, task.Target)
	return nil
}

// handleRepair runs the healing pipeline and reloads the registry when
// a fix was promoted.
func (o *Orchestrator) handleRepair(ctx context.Context, task *types.Task) error {
	errText := ""
	if h, err := o.health.Get(ctx, task.Target); err == nil && h != nil {
		errText = h.LastError
	}

	if err := o.doctor.Heal(ctx, task.Target, errText); err != nil {
		return err
	}
	return o.registry.Rebuild()
}

// handleRefresh fetches and parses an existing source through its
// deployed plugin, updating health either way. Quarantined and DEAD
// sources are skipped without being counted as failures.
func (o *Orchestrator) handleRefresh(ctx context.Context, task *types.Task) error {
	name := task.Target

	if h, err := o.health.Get(ctx, name); err == nil && h != nil && h.State == types.SourceDead {
		fmt.Printf("[orchestrator %s] skipping refresh of dead source %s\n", shortID(o.id), name)
		return nil
	}
	if quarantined, err := o.health.IsQuarantined(ctx, name); err == nil && quarantined {
		fmt.Printf("[orchestrator %s] skipping refresh of quarantined source %s\n", shortID(o.id), name)
		return nil
	}

	src := o.registry.Get(name)
	if src == nil {
		return fmt.Errorf("no plugin deployed for source %s", name)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	payload, err := src.Fetch(fetchCtx)
	if err != nil {
		return o.refreshFailed(ctx, name, err)
	}
	entities, err := src.Parse(payload)
	if err != nil {
		return o.refreshFailed(ctx, name, err)
	}

	if err := o.health.RecordSuccess(ctx, name); err != nil {
		return err
	}
	hash := sha256.Sum256([]byte(payload))
	if err := o.health.UpdateContentHash(ctx, name, hex.EncodeToString(hash[:])); err != nil {
		return err
	}

	fmt.Printf("[orchestrator %s] refreshed %s: %d entities\n", shortID(o.id), name, len(entities))
	return nil
}

// refreshFailed records the failure against source health and returns
// the original error so the task fails. Repair scheduling is left to
// the health sweep.
func (o *Orchestrator) refreshFailed(ctx context.Context, name string, cause error) error {
	if _, herr := o.health.RecordFailure(ctx, name, cause.Error()); herr != nil {
		fmt.Fprintf(os.Stderr, "error recording failure for %s: %v\n", name, herr)
	}
	return cause
}

// EnqueueAcquire schedules acquisition of a new source from url.
func (o *Orchestrator) EnqueueAcquire(ctx context.Context, target string) (*types.Task, error) {
	return o.store.EnqueueTask(ctx, types.TaskAcquire, target, PriorityAcquire, o.cfg.DefaultMaxRetries)
}

// EnqueueRepair schedules a repair for source.
func (o *Orchestrator) EnqueueRepair(ctx context.Context, source string) (*types.Task, error) {
	return o.store.EnqueueTask(ctx, types.TaskRepair, source, PriorityRepair, 0)
}

// EnqueueRefresh schedules a routine refresh for source.
func (o *Orchestrator) EnqueueRefresh(ctx context.Context, source string) (*types.Task, error) {
	return o.store.EnqueueTask(ctx, types.TaskRefresh, source, PriorityRefresh, o.cfg.DefaultMaxRetries)
}

// Status is a point-in-time snapshot for the status command.
type Status struct {
	OrchestratorID string
	PendingTasks   int
	Plugins        []string
	Sources        []*types.SourceHealth
	RecentFixes    []*types.FixRecord
}

// Snapshot assembles a Status.
func (o *Orchestrator) Snapshot(ctx context.Context) (*Status, error) {
	pending, err := o.store.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	sources, err := o.health.AllSources(ctx)
	if err != nil {
		return nil, err
	}
	fixes, err := o.store.RecentFixRecords(ctx, "", 10)
	if err != nil {
		return nil, err
	}
	return &Status{
		OrchestratorID: o.id,
		PendingTasks:   pending,
		Plugins:        o.registry.Names(),
		Sources:        sources,
		RecentFixes:    fixes,
	}, nil
}

// ListTasks returns up to limit recent tasks, newest first.
func (o *Orchestrator) ListTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	return o.store.RecentTasks(ctx, limit)
}

// nameHint derives a snake_case source name suggestion from a URL.
func nameHint(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	return strings.NewReplacer(".", "_", "-", "_").Replace(host)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
