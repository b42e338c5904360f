// Package doctor runs the self-healing pipeline for broken sources:
// collect context, diagnose, patch, stage, validate, promote. Every run
// appends exactly one fix-history row recording the stage it reached.
package doctor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"forager/internal/artifact"
	"forager/internal/config"
	"forager/internal/health"
	"forager/internal/registry"
	"forager/internal/storage"
	"forager/internal/types"
)

// Pipeline stages, recorded on fix-history rows as the furthest point a
// run reached.
const (
	StageCollecting = "COLLECTING"
	StageDiagnosing = "DIAGNOSING"
	StagePatching   = "PATCHING"
	StageStaged     = "STAGED"
	StageValidating = "VALIDATING"
	StagePromoting  = "PROMOTING"
	StagePromoted   = "PROMOTED"
)

// Oracle is the diagnostic and generation capability the pipeline
// needs. Satisfied by ai.Oracle.
type Oracle interface {
	Diagnose(ctx context.Context, dc *types.DiagnosisContext, lessons []*types.Lesson) *types.Diagnosis
	GeneratePatch(ctx context.Context, d *types.Diagnosis, dc *types.DiagnosisContext) (string, error)
	DistillLesson(ctx context.Context, dc *types.DiagnosisContext, d *types.Diagnosis, patchLen int) (*types.Lesson, error)
}

// Doctor wires the healing pipeline together.
type Doctor struct {
	store     storage.FixStore
	health    *health.Tracker
	oracle    Oracle
	artifacts *artifact.Store
	cfg       *config.Config
}

// New creates a Doctor.
func New(store storage.FixStore, tracker *health.Tracker, oracle Oracle, artifacts *artifact.Store, cfg *config.Config) *Doctor {
	return &Doctor{
		store:     store,
		health:    tracker,
		oracle:    oracle,
		artifacts: artifacts,
		cfg:       cfg,
	}
}

// Heal runs the full pipeline for source, driven by the error text that
// triggered the repair. It consumes one slot of the daily fix budget
// before any external call. Returns nil only when a fix was promoted.
func (d *Doctor) Heal(ctx context.Context, source, errText string) error {
	h, err := d.health.Get(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to load health for %s: %w", source, err)
	}
	if h != nil && h.State == types.SourceDead {
		return types.ErrSourceDead
	}

	ok, err := d.health.CanAttemptFix(ctx, source)
	if err != nil {
		return fmt.Errorf("failed to check fix budget for %s: %w", source, err)
	}
	if !ok {
		return types.ErrCircuitOpen
	}
	if err := d.health.RecordFixAttempt(ctx, source); err != nil {
		return fmt.Errorf("failed to record fix attempt for %s: %w", source, err)
	}
	// Re-read health so the context reflects the slot just consumed.
	if fresh, err := d.health.Get(ctx, source); err == nil && fresh != nil {
		h = fresh
	}

	dc := d.collect(ctx, source, errText, h)

	lessons, err := d.store.MatchLessons(ctx, dc.ErrorType, source, 3)
	if err != nil {
		// Lessons are advisory. Diagnose without them.
		lessons = nil
	}

	fmt.Printf("[doctor] %s: diagnosing (%s)\n", source, dc.ErrorType)
	diag := d.oracle.Diagnose(ctx, dc, lessons)
	if diag.Confidence < d.cfg.MinConfidence {
		reason := fmt.Sprintf("diagnosis confidence %.2f below floor %.2f: %s",
			diag.Confidence, d.cfg.MinConfidence, diag.RootCause)
		d.record(ctx, source, StageDiagnosing, dc, diag, "", false)
		return fmt.Errorf("aborting fix for %s: %s", source, reason)
	}

	fmt.Printf("[doctor] %s: generating %s (confidence %.2f)\n", source, diag.FixStrategy, diag.Confidence)
	patched, err := d.oracle.GeneratePatch(ctx, diag, dc)
	if err != nil {
		d.record(ctx, source, StagePatching, dc, diag, "", false)
		return fmt.Errorf("patch generation failed for %s: %w", source, err)
	}
	if err := registry.CheckSyntax(patched); err != nil {
		d.record(ctx, source, StagePatching, dc, diag, "", false)
		return fmt.Errorf("patched code rejected for %s: %w", source, err)
	}

	if err := d.artifacts.WriteStaged(source, patched); err != nil {
		d.record(ctx, source, StageStaged, dc, diag, "", false)
		return fmt.Errorf("failed to stage fix for %s: %w", source, err)
	}

	if _, err := registry.LoadSource(source, patched); err != nil {
		_ = d.artifacts.RemoveStaged(source)
		d.record(ctx, source, StageValidating, dc, diag, "", false)
		return fmt.Errorf("validation failed for %s: %w", source, err)
	}

	if err := d.artifacts.Promote(source); err != nil {
		d.record(ctx, source, StagePromoting, dc, diag, "", false)
		return fmt.Errorf("promotion failed for %s: %w", source, err)
	}

	d.record(ctx, source, StagePromoted, dc, diag, summarize(diag, len(patched)), true)
	d.learn(ctx, dc, diag, lessons, len(patched))

	fmt.Printf("[doctor] %s: fix promoted\n", source)
	return nil
}

// Rollback restores the pre-fix backup for source. Used when a promoted
// fix turns out to regress.
func (d *Doctor) Rollback(ctx context.Context, source string) error {
	if !d.artifacts.BackupExists(source) {
		return fmt.Errorf("no backup to roll back for %s", source)
	}
	if err := d.artifacts.RestoreBackup(source); err != nil {
		return err
	}
	d.record(ctx, source, "ROLLBACK", &types.DiagnosisContext{SourceName: source}, nil, "rolled back to previous artifact", false)
	return nil
}

// collect assembles the diagnosis context. Collection fails open: any
// piece that cannot be gathered stays zero-valued rather than blocking
// the pipeline.
func (d *Doctor) collect(ctx context.Context, source, errText string, h *types.SourceHealth) *types.DiagnosisContext {
	dc := &types.DiagnosisContext{
		SourceName:   source,
		ErrorType:    ClassifyError(errText),
		ErrorMessage: truncate(errText, d.cfg.MaxErrorLen),
	}

	if h != nil {
		dc.FailureStreak = h.ConsecutiveFailures
		dc.FixAttemptsToday = h.FixAttemptsToday
		dc.PreviousHash = h.LastContentHash
	}
	if quarantined, err := d.health.IsQuarantined(ctx, source); err == nil {
		dc.IsQuarantined = quarantined
	}
	if code, err := d.artifacts.Read(source); err == nil {
		dc.CurrentCode = code
	}
	d.detectContentDrift(ctx, source, dc)

	return dc
}

// detectContentDrift fetches a fresh payload through the deployed code
// and compares its hash against the last successful run's. Skipped when
// either side of the comparison is missing; a failed fetch leaves the
// flag unset.
func (d *Doctor) detectContentDrift(ctx context.Context, source string, dc *types.DiagnosisContext) {
	if dc.PreviousHash == "" || dc.CurrentCode == "" {
		return
	}
	src, err := registry.LoadSource(source, dc.CurrentCode)
	if err != nil {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()
	payload, err := src.Fetch(fctx)
	if err != nil {
		return
	}
	sum := sha256.Sum256([]byte(payload))
	dc.ContentChanged = hex.EncodeToString(sum[:]) != dc.PreviousHash
}

// record appends the single audit row for this run.
func (d *Doctor) record(ctx context.Context, source, stage string, dc *types.DiagnosisContext, diag *types.Diagnosis, patchSummary string, success bool) {
	r := &types.FixRecord{
		SourceName:   source,
		Stage:        stage,
		ErrorType:    dc.ErrorType,
		ErrorMessage: dc.ErrorMessage,
		PatchSummary: patchSummary,
		Success:      success,
	}
	if diag != nil {
		r.RootCause = diag.RootCause
	}
	if err := d.store.AppendFixRecord(ctx, r); err != nil {
		fmt.Printf("warning: failed to append fix record for %s: %v\n", source, err)
	}
}

// learn distills a lesson from a successful fix and reinforces any
// matched lesson that informed it. Best-effort; failures are logged and
// do not affect the fix outcome.
func (d *Doctor) learn(ctx context.Context, dc *types.DiagnosisContext, diag *types.Diagnosis, matched []*types.Lesson, patchLen int) {
	if len(matched) > 0 {
		if err := d.store.ReinforceLesson(ctx, matched[0].ID); err != nil {
			fmt.Printf("warning: failed to reinforce lesson %d: %v\n", matched[0].ID, err)
		}
	}

	lesson, err := d.oracle.DistillLesson(ctx, dc, diag, patchLen)
	if err != nil {
		fmt.Printf("warning: lesson distillation failed for %s: %v\n", dc.SourceName, err)
		return
	}
	if err := d.store.AppendLesson(ctx, lesson); err != nil {
		fmt.Printf("warning: failed to store lesson for %s: %v\n", dc.SourceName, err)
	}
}

// ClassifyError buckets raw error text into the coarse categories the
// diagnosis prompt and lesson matching key on.
func ClassifyError(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return "timeout"
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"):
		return "connection"
	case strings.Contains(lower, "selector"), strings.Contains(lower, "not found in document"):
		return "selector_not_found"
	case strings.Contains(lower, "unmarshal"), strings.Contains(lower, "unexpected end of json"),
		strings.Contains(lower, "invalid character"):
		return "json_shape"
	case strings.Contains(lower, "parse"):
		return "parse_error"
	case strings.Contains(lower, "status 4"), strings.Contains(lower, "status 5"):
		return "http_status"
	default:
		return "unknown"
	}
}

func summarize(diag *types.Diagnosis, patchLen int) string {
	return fmt.Sprintf("%s fix (%d chars): %s", diag.FixStrategy, patchLen, diag.SuggestedFix)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
