// Package pipeline drives the multi-stage generation state machine: roadmap,
// per-unit content with retry and checkpointed recovery, and final assembly.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lamim/lessonforge/internal/checkpoint"
	"github.com/lamim/lessonforge/internal/config"
	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/internal/metrics"
	"github.com/lamim/lessonforge/internal/prompt"
	"github.com/lamim/lessonforge/internal/provider"
	"github.com/lamim/lessonforge/internal/retry"
	"github.com/lamim/lessonforge/pkg/models"
)

// Progress milestones. Unit generation is scaled linearly into the
// unit band by completed fraction.
const (
	progressRoadmapStart     = 5
	progressRoadmapDone      = 10
	progressUnitsStart       = 15
	progressUnitsEnd         = 85
	progressReadyForAssembly = 90
	progressComplete         = 100
)

// Orchestrator owns the pipeline for jobs. Callers must not run two
// concurrent passes for the same job id; the orchestrator does not lock
// against that.
type Orchestrator struct {
	cfg         *config.Config
	gateway     provider.Gateway
	checkpoints *checkpoint.Store
	prompts     *prompt.Builder
	reporter    *Reporter
	policy      retry.Policy
	collector   *metrics.Collector
	logger      *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an orchestrator. collector may be nil.
func New(
	cfg *config.Config,
	gateway provider.Gateway,
	checkpoints *checkpoint.Store,
	reporter *Reporter,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Orchestrator {
	if reporter == nil {
		reporter = NewReporter()
	}
	return &Orchestrator{
		cfg:         cfg,
		gateway:     gateway,
		checkpoints: checkpoints,
		prompts:     prompt.NewBuilder(cfg.PromptTemplates, cfg.Generation.ContextWindowUnits, cfg.Generation.ContextWindowWords),
		reporter:    reporter,
		policy:      cfg.Retry.Policy(),
		collector:   collector,
		logger:      logger,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Reporter returns the progress reporter for observer registration.
func (o *Orchestrator) Reporter() *Reporter {
	return o.reporter
}

// registerJob derives a cancellable context for one pipeline pass and tracks
// its cancel func so CancelActiveRequests can abort in-flight calls.
func (o *Orchestrator) registerJob(ctx context.Context, jobID string) (context.Context, func()) {
	jctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()

	return jctx, func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
	}
}

// CancelActiveRequests aborts any in-flight provider call for the given job,
// or for all jobs when jobID is empty.
func (o *Orchestrator) CancelActiveRequests(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if jobID == "" {
		for _, cancel := range o.cancels {
			cancel()
		}
		return
	}
	if cancel, ok := o.cancels[jobID]; ok {
		cancel()
	}
}

// HasCheckpoint reports whether a recovery record exists for the job.
func (o *Orchestrator) HasCheckpoint(jobID string) bool {
	return o.checkpoints.Has(jobID)
}

// CheckpointInfo summarizes a recovery record for display.
type CheckpointInfo struct {
	Completed int
	Failed    int
	Total     int
	SavedAt   time.Time
}

// GetCheckpointInfo returns checkpoint counts for a job id. The record does
// not carry the plan, so Total counts only the units it has seen; callers
// holding the plan can substitute its unit count.
func (o *Orchestrator) GetCheckpointInfo(jobID string) (CheckpointInfo, bool) {
	cp, ok := o.checkpoints.Load(jobID)
	if !ok {
		return CheckpointInfo{}, false
	}
	return CheckpointInfo{
		Completed: len(cp.CompletedPlanUnitIDs),
		Failed:    len(cp.FailedPlanUnitIDs),
		Total:     len(cp.CompletedPlanUnitIDs) + len(cp.FailedPlanUnitIDs),
		SavedAt:   cp.SavedAt,
	}, true
}

// publishJob mirrors the job's current fields to observers.
func (o *Orchestrator) publishJob(job *models.Job, message string) {
	o.reporter.PublishJob(job.ID, JobUpdate{
		Status:   job.Status,
		Progress: job.Progress,
		Message:  message,
	})
}

// upsertUnit inserts a unit, superseding any prior unit for the same planned
// unit. At most one current unit exists per plan unit id.
func upsertUnit(job *models.Job, unit models.Unit) {
	for i, existing := range job.Units {
		if existing.PlanUnitID == unit.PlanUnitID {
			job.Units[i] = unit
			return
		}
	}
	job.Units = append(job.Units, unit)
}

// unitProgress maps completed-unit fraction into the unit progress band.
func unitProgress(completed, total int) int {
	if total == 0 {
		return progressUnitsStart
	}
	span := progressUnitsEnd - progressUnitsStart
	return progressUnitsStart + span*completed/total
}

// isHardStop reports whether err must abort the whole pass rather than
// degrade to a failed unit.
func isHardStop(err error) bool {
	switch llmerrors.KindOf(err) {
	case llmerrors.KindConfiguration, llmerrors.KindAborted:
		return true
	}
	return false
}
