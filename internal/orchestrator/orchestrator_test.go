package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forager/internal/artifact"
	"forager/internal/config"
	"forager/internal/doctor"
	"forager/internal/fetch"
	"forager/internal/health"
	"forager/internal/registry"
	"forager/internal/storage/sqlite"
	"forager/internal/types"
)

const workingPlugin = `package main

func Fetch() (string, error) {
	return "name,value\nalpha,1", nil
}

func Parse(payload string) ([]map[string]string, error) {
	return []map[string]string{{"payload": payload}}, nil
}
`

const failingPlugin = `package main

import "errors"

func Fetch() (string, error) {
	return "", errors.New("connection refused")
}

func Parse(payload string) ([]map[string]string, error) {
	return nil, nil
}
`

// fakeOracle scripts the doctor's AI dependency so repair tasks can run
// end to end without a live API.
type fakeOracle struct {
	confidence float64
	patch      string
}

func (f *fakeOracle) Diagnose(ctx context.Context, dc *types.DiagnosisContext, lessons []*types.Lesson) *types.Diagnosis {
	return &types.Diagnosis{
		SourceName:   dc.SourceName,
		ErrorType:    dc.ErrorType,
		RootCause:    "markup drift",
		SuggestedFix: "update selectors",
		Confidence:   f.confidence,
		FixStrategy:  "patch",
	}
}

func (f *fakeOracle) GeneratePatch(ctx context.Context, d *types.Diagnosis, dc *types.DiagnosisContext) (string, error) {
	return f.patch, nil
}

func (f *fakeOracle) DistillLesson(ctx context.Context, dc *types.DiagnosisContext, d *types.Diagnosis, patchLen int) (*types.Lesson, error) {
	return &types.Lesson{
		ErrorType:          dc.ErrorType,
		DomainPattern:      "html_table",
		SymptomDescription: "selector returns nothing",
		FixStrategy:        "re-derive selectors",
	}, nil
}

// newTestOrchestrator wires the loop without an oracle. Tests that
// would reach the AI layer use newTestOrchestratorWithOracle.
func newTestOrchestrator(t *testing.T) *Orchestrator {
	return newTestOrchestratorWithOracle(t, nil)
}

func newTestOrchestratorWithOracle(t *testing.T, oracle doctor.Oracle) *Orchestrator {
	t.Helper()
	root := t.TempDir()

	store, err := sqlite.New(filepath.Join(root, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.DBPath = filepath.Join(root, "test.db")
	cfg.RegistryDir = filepath.Join(root, "registry")
	cfg.StagingDir = filepath.Join(root, "registry", "staging")

	artifacts, err := artifact.New(cfg.RegistryDir, cfg.StagingDir)
	require.NoError(t, err)

	tracker := health.New(store, cfg)
	return &Orchestrator{
		id:        uuid.New().String(),
		store:     store,
		health:    tracker,
		artifacts: artifacts,
		registry:  registry.New(artifacts),
		doctor:    doctor.New(store, tracker, oracle, artifacts, cfg),
		fetcher:   fetch.New(cfg.FetchTimeout),
		cfg:       cfg,
	}
}

func deploy(t *testing.T, o *Orchestrator, name, code string) {
	t.Helper()
	require.NoError(t, o.artifacts.WriteStaged(name, code))
	require.NoError(t, o.artifacts.Promote(name))
	require.NoError(t, o.registry.Rebuild())
}

func TestEnqueuePriorities(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	refresh, err := o.EnqueueRefresh(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, PriorityRefresh, refresh.Priority)

	acquire, err := o.EnqueueAcquire(ctx, "https://example.com/data")
	require.NoError(t, err)
	assert.Equal(t, PriorityAcquire, acquire.Priority)

	repair, err := o.EnqueueRepair(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, PriorityRepair, repair.Priority)

	// Repairs outrank everything else in the queue.
	claimed, err := o.store.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, repair.ID, claimed.ID)
}

func TestRefreshTaskUpdatesHealth(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	deploy(t, o, "demo", workingPlugin)

	task, err := o.EnqueueRefresh(ctx, "demo")
	require.NoError(t, err)

	o.RunOnce(ctx)

	got, err := o.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.State)

	h, err := o.health.Get(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, types.SourceActive, h.State)
	assert.Equal(t, 1, h.SuccessCount)
	assert.NotEmpty(t, h.LastContentHash)
}

func TestRefreshFailureRecordsFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	deploy(t, o, "flaky", failingPlugin)

	task, err := o.store.EnqueueTask(ctx, types.TaskRefresh, "flaky", PriorityRefresh, 0)
	require.NoError(t, err)

	o.RunOnce(ctx)

	got, err := o.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "connection refused")

	h, err := o.health.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, 1, h.FailureCount)

	// No retry budget, so nothing was re-enqueued.
	n, err := o.store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailedTaskWithBudgetIsReEnqueued(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	// No plugin deployed, so the refresh fails without touching health.
	task, err := o.store.EnqueueTask(ctx, types.TaskRefresh, "missing", PriorityRefresh, 2)
	require.NoError(t, err)

	claimed, err := o.store.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.Equal(t, task.ID, claimed.ID)
	o.dispatch(ctx, claimed)

	got, err := o.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.State)

	tasks, err := o.store.RecentTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var retry *types.Task
	for _, tk := range tasks {
		if tk.State == types.TaskPending {
			retry = tk
		}
	}
	require.NotNil(t, retry)
	assert.Equal(t, 1, retry.MaxRetries, "retry budget is decremented")
	assert.Equal(t, "missing", retry.Target)
}

func TestRefreshSkipsQuarantinedSource(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	deploy(t, o, "jailed", workingPlugin)

	require.NoError(t, o.health.Quarantine(ctx, "jailed", time.Hour))

	task, err := o.EnqueueRefresh(ctx, "jailed")
	require.NoError(t, err)

	o.RunOnce(ctx)

	got, err := o.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.State, "a skip is not a failure")

	h, err := o.health.Get(ctx, "jailed")
	require.NoError(t, err)
	assert.Equal(t, 0, h.SuccessCount)
	assert.Equal(t, 0, h.FailureCount)
}

func TestRepairTaskEndToEnd(t *testing.T) {
	fixed := `package main

func Fetch() (string, error) { return "repaired", nil }

func Parse(payload string) ([]map[string]string, error) {
	return []map[string]string{{"payload": payload}}, nil
}
`
	o := newTestOrchestratorWithOracle(t, &fakeOracle{confidence: 0.95, patch: fixed})
	ctx := context.Background()
	deploy(t, o, "broken", workingPlugin)

	_, err := o.health.RecordFailure(ctx, "broken", "selector X not found")
	require.NoError(t, err)

	task, err := o.EnqueueRepair(ctx, "broken")
	require.NoError(t, err)

	o.RunOnce(ctx)

	got, err := o.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, got.State)

	// The patched plugin is live in production and in the registry.
	text, err := o.artifacts.Read("broken")
	require.NoError(t, err)
	assert.Equal(t, fixed, text)

	payload, err := o.registry.Get("broken").Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "repaired", payload)

	records, err := o.store.RecentFixRecords(ctx, "broken", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)

	lessons, err := o.store.MatchLessons(ctx, "selector_not_found", "", 10)
	require.NoError(t, err)
	assert.Len(t, lessons, 1)
}

func TestRepairTaskFailsOnLowConfidence(t *testing.T) {
	o := newTestOrchestratorWithOracle(t, &fakeOracle{confidence: 0.1, patch: workingPlugin})
	ctx := context.Background()
	deploy(t, o, "iffy", workingPlugin)

	_, err := o.health.RecordFailure(ctx, "iffy", "something odd")
	require.NoError(t, err)

	task, err := o.EnqueueRepair(ctx, "iffy")
	require.NoError(t, err)

	o.RunOnce(ctx)

	got, err := o.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "confidence")

	records, err := o.store.RecentFixRecords(ctx, "iffy", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
}

func TestHealthSweepSchedulesRepairOnce(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.health.RecordFailure(ctx, "shaky", "timeout")
	require.NoError(t, err)
	_, err = o.health.RecordFailure(ctx, "shaky", "timeout")
	require.NoError(t, err)

	o.healthSweep(ctx)

	pending, err := o.store.PendingTaskForTarget(ctx, types.TaskRepair, "shaky")
	require.NoError(t, err)
	assert.True(t, pending)

	// A second sweep must not duplicate the repair.
	o.healthSweep(ctx)
	n, err := o.store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHealthSweepSkipsActiveQuarantine(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	for i := 0; i < o.cfg.QuarantineThreshold; i++ {
		_, err := o.health.RecordFailure(ctx, "jailed", "timeout")
		require.NoError(t, err)
	}
	h, err := o.health.Get(ctx, "jailed")
	require.NoError(t, err)
	require.Equal(t, types.SourceQuarantined, h.State)

	o.healthSweep(ctx)

	pending, err := o.store.PendingTaskForTarget(ctx, types.TaskRepair, "jailed")
	require.NoError(t, err)
	assert.False(t, pending, "no repair while the quarantine window is open")

	n, err := o.store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealthSweepRepairsAfterQuarantineExpires(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.health.SetClock(func() time.Time { return base })
	for i := 0; i < o.cfg.QuarantineThreshold; i++ {
		_, err := o.health.RecordFailure(ctx, "paroled", "timeout")
		require.NoError(t, err)
	}

	o.health.SetClock(func() time.Time { return base.Add(o.cfg.QuarantineDuration + time.Minute) })
	o.healthSweep(ctx)

	pending, err := o.store.PendingTaskForTarget(ctx, types.TaskRepair, "paroled")
	require.NoError(t, err)
	assert.True(t, pending, "an expired quarantine is released and repaired")

	h, err := o.health.Get(ctx, "paroled")
	require.NoError(t, err)
	assert.Equal(t, types.SourceDegraded, h.State)
}

func TestHealthSweepSkipsExhaustedBudget(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.health.RecordFailure(ctx, "spent", "timeout")
	require.NoError(t, err)
	_, err = o.health.RecordFailure(ctx, "spent", "timeout")
	require.NoError(t, err)
	for i := 0; i < o.cfg.MaxFixAttemptsPerDay; i++ {
		require.NoError(t, o.health.RecordFixAttempt(ctx, "spent"))
	}

	o.healthSweep(ctx)

	n, err := o.store.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartupReapsStaleTasks(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	task, err := o.EnqueueRefresh(ctx, "src")
	require.NoError(t, err)
	_, err = o.store.ClaimNextTask(ctx)
	require.NoError(t, err)

	require.NoError(t, o.Startup(ctx))

	got, err := o.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, got.State, "a fresh claim is returned to the queue")
}

func TestRunAndStop(t *testing.T) {
	o := newTestOrchestrator(t)
	o.cfg.PollInterval = 10 * time.Millisecond

	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	o.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}

func TestSnapshot(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()
	deploy(t, o, "demo", workingPlugin)

	_, err := o.EnqueueRefresh(ctx, "demo")
	require.NoError(t, err)
	require.NoError(t, o.health.RecordSuccess(ctx, "demo"))

	status, err := o.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.PendingTasks)
	assert.Equal(t, []string{"demo"}, status.Plugins)
	require.Len(t, status.Sources, 1)
	assert.Equal(t, "demo", status.Sources[0].SourceName)
}

func TestNameHint(t *testing.T) {
	cases := map[string]string{
		"https://www.example.com/data.json": "example_com",
		"https://api.my-site.org/v1":        "api_my_site_org",
		"not a url":                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, nameHint(in), "input: %s", in)
	}
}
