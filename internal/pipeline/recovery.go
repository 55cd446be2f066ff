package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/pkg/models"
)

// unitSets tracks per-pass completion state keyed by plan unit id. The two
// sets stay disjoint: completion removes a unit from the failed set.
type unitSets struct {
	completed map[string]bool
	failed    map[string]bool
}

func newUnitSets(cp *models.Checkpoint) unitSets {
	if cp == nil {
		return unitSets{completed: make(map[string]bool), failed: make(map[string]bool)}
	}
	return unitSets{completed: cp.CompletedSet(), failed: cp.FailedSet()}
}

func (s unitSets) record(unit models.Unit) {
	if unit.Status == models.UnitCompleted {
		s.completed[unit.PlanUnitID] = true
		delete(s.failed, unit.PlanUnitID)
		return
	}
	s.failed[unit.PlanUnitID] = true
	delete(s.completed, unit.PlanUnitID)
}

// planOrder returns the subset of plan unit ids present in set, in plan order.
// Checkpoint records stay deterministic regardless of completion order.
func planOrder(plan *models.Roadmap, set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, pu := range plan.Units {
		if set[pu.ID] {
			out = append(out, pu.ID)
		}
	}
	return out
}

// GenerateAllUnitsWithRecovery runs the content stage: every planned unit not
// already completed is generated in plan order, with the checkpoint updated
// after every unit outcome so an interrupted run resumes where it stopped.
// Permanent per-unit failures degrade the job to failed without an error
// return; only hard stops (cancellation, configuration) surface as errors.
func (o *Orchestrator) GenerateAllUnitsWithRecovery(ctx context.Context, job *models.Job, session models.Session) error {
	if job.Plan == nil || len(job.Plan.Units) == 0 {
		return llmerrors.New(llmerrors.KindConfiguration, "job has no roadmap to generate from")
	}

	jctx, done := o.registerJob(ctx, job.ID)
	defer done()

	cp, resumed := o.checkpoints.Load(job.ID)
	sets := newUnitSets(cp)
	retryCounts := make(map[string]int)
	lastIndex := 0
	if resumed {
		for id, n := range cp.RetryCounts {
			retryCounts[id] = n
		}
		lastIndex = cp.LastIndex
		o.logger.Info("Resuming from checkpoint",
			"job_id", job.ID,
			"completed", len(cp.CompletedPlanUnitIDs),
			"failed", len(cp.FailedPlanUnitIDs),
			"age", cp.SavedAt)
	}

	// Units already completed in memory count as done even if the checkpoint
	// missed them, so a stale record never regenerates finished work.
	for _, u := range job.CompletedUnits() {
		sets.completed[u.PlanUnitID] = true
		delete(sets.failed, u.PlanUnitID)
	}

	var remaining []models.PlannedUnit
	for _, pu := range job.Plan.Units {
		if !sets.completed[pu.ID] {
			remaining = append(remaining, pu)
		}
	}

	total := job.Plan.TotalUnits
	if len(remaining) == 0 {
		job.Status = models.StatusContentReady
		job.Progress = progressReadyForAssembly
		o.publishJob(job, "All units already generated")
		return nil
	}

	job.Status = models.StatusContentGenerating
	job.Progress = unitProgress(len(sets.completed), total)
	o.publishJob(job, fmt.Sprintf("Generating %d of %d units", len(remaining), total))

	interUnitDelay := time.Duration(o.cfg.Generation.InterUnitDelayMS) * time.Millisecond

	for i, planned := range remaining {
		o.reporter.PublishStatus(job.ID, models.GenerationStatus{
			UnitID:  planned.ID,
			Title:   planned.Title,
			Attempt: 1,
			Stage:   models.StageAnalyzing,
			Message: fmt.Sprintf("Starting unit %d of %d", planned.OrderIndex, total),
		})

		unit, err := o.generateUnitWithRetry(jctx, job, planned, session, retryCounts)
		if err != nil {
			// The checkpoint already reflects every finished unit; the
			// interrupted one is simply regenerated on the next run.
			return err
		}

		upsertUnit(job, unit)
		sets.record(unit)
		if planned.OrderIndex > lastIndex {
			lastIndex = planned.OrderIndex
		}
		o.checkpoints.Save(job.ID,
			planOrder(job.Plan, sets.completed),
			planOrder(job.Plan, sets.failed),
			lastIndex,
			retryCounts)

		// Observers hear about every outcome; progress only advances for
		// completed units.
		if unit.Status == models.UnitCompleted {
			job.Progress = unitProgress(len(sets.completed), total)
			o.publishJob(job, fmt.Sprintf("Completed unit %d of %d: %s", planned.OrderIndex, total, planned.Title))
		} else {
			o.publishJob(job, fmt.Sprintf("Unit %d of %d failed: %s", planned.OrderIndex, total, planned.Title))
		}

		if i < len(remaining)-1 && interUnitDelay > 0 {
			select {
			case <-jctx.Done():
				return llmerrors.New(llmerrors.KindAborted, "generation cancelled")
			case <-time.After(interUnitDelay):
			}
		}
	}

	if failed := len(sets.failed); failed > 0 {
		job.Status = models.StatusFailed
		job.ErrorMessage = fmt.Sprintf("%d failed module(s). Successfully generated %d modules.",
			failed, len(sets.completed))
		o.publishJob(job, job.ErrorMessage)
		o.logger.Warn("Content stage finished with failures",
			"job_id", job.ID,
			"completed", len(sets.completed),
			"failed", failed)
		return nil
	}

	o.checkpoints.Clear(job.ID)
	job.Status = models.StatusContentReady
	job.Progress = progressReadyForAssembly
	o.publishJob(job, "All units generated")
	return nil
}

// RetryFailedModules regenerates only the units currently in error state,
// each with a fresh attempt budget. Units that succeed move to the completed
// set; if none remain failed afterwards the job becomes ready for assembly.
func (o *Orchestrator) RetryFailedModules(ctx context.Context, job *models.Job, session models.Session) error {
	if job.Plan == nil {
		return llmerrors.New(llmerrors.KindConfiguration, "job has no roadmap to generate from")
	}

	failedUnits := job.FailedUnits()
	if len(failedUnits) == 0 {
		return nil
	}

	jctx, done := o.registerJob(ctx, job.ID)
	defer done()

	cp, _ := o.checkpoints.Load(job.ID)
	sets := newUnitSets(cp)
	for _, u := range job.CompletedUnits() {
		sets.completed[u.PlanUnitID] = true
		delete(sets.failed, u.PlanUnitID)
	}
	for _, u := range failedUnits {
		sets.failed[u.PlanUnitID] = true
	}
	retryCounts := make(map[string]int)
	lastIndex := 0
	if cp != nil {
		lastIndex = cp.LastIndex
	}

	total := job.Plan.TotalUnits
	job.Status = models.StatusContentGenerating
	o.publishJob(job, fmt.Sprintf("Retrying %d failed units", len(failedUnits)))

	for _, failedUnit := range failedUnits {
		planned, ok := job.Plan.PlannedUnitByID(failedUnit.PlanUnitID)
		if !ok {
			o.logger.Warn("Failed unit has no plan entry, skipping",
				"job_id", job.ID,
				"plan_unit_id", failedUnit.PlanUnitID)
			continue
		}

		unit, err := o.generateUnitWithRetry(jctx, job, planned, session, retryCounts)
		if err != nil {
			return err
		}

		upsertUnit(job, unit)
		sets.record(unit)
		if planned.OrderIndex > lastIndex {
			lastIndex = planned.OrderIndex
		}
		o.checkpoints.Save(job.ID,
			planOrder(job.Plan, sets.completed),
			planOrder(job.Plan, sets.failed),
			lastIndex,
			retryCounts)

		if unit.Status == models.UnitCompleted {
			job.Progress = unitProgress(len(sets.completed), total)
			o.publishJob(job, fmt.Sprintf("Recovered unit %d of %d: %s", planned.OrderIndex, total, planned.Title))
		} else {
			o.publishJob(job, fmt.Sprintf("Unit %d of %d failed again: %s", planned.OrderIndex, total, planned.Title))
		}
	}

	if failed := len(sets.failed); failed > 0 {
		job.Status = models.StatusFailed
		job.ErrorMessage = fmt.Sprintf("%d failed module(s). Successfully generated %d modules.",
			failed, len(sets.completed))
		o.publishJob(job, job.ErrorMessage)
		return nil
	}

	o.checkpoints.Clear(job.ID)
	job.Status = models.StatusContentReady
	job.Progress = progressReadyForAssembly
	job.ErrorMessage = ""
	o.publishJob(job, "All failed units recovered")
	return nil
}
