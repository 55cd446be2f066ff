package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/internal/provider"
	"github.com/lamim/lessonforge/internal/util"
	"github.com/lamim/lessonforge/pkg/models"
)

// statusProgressCeiling caps the in-flight progress estimate; the final 100%
// is only ever published on a confirmed successful attempt.
const statusProgressCeiling = 95

// generateUnitWithRetry runs the bounded attempt loop for one planned unit.
// It returns a completed unit on success and an error-status unit when
// attempts are exhausted or the failure is not retryable. The error return is
// non-nil only for hard stops that must abort the whole pass.
func (o *Orchestrator) generateUnitWithRetry(
	ctx context.Context,
	job *models.Job,
	planned models.PlannedUnit,
	session models.Session,
	retryCounts map[string]int,
) (models.Unit, error) {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		retryCounts[planned.ID] = attempt

		unit, err := o.attemptUnit(ctx, job, planned, session, attempt)
		if err == nil {
			o.collector.RecordUnitAttempt("success")
			o.collector.RecordUnitDone(string(models.UnitCompleted), time.Since(start))
			o.logger.Info("Unit generated",
				"job_id", job.ID,
				"unit_id", planned.ID,
				"title", planned.Title,
				"words", unit.WordCount,
				"attempt", attempt)
			return unit, nil
		}

		if isHardStop(err) {
			o.collector.RecordUnitAttempt("aborted")
			return models.Unit{}, err
		}

		lastErr = err
		if !o.policy.ShouldRetry(err, attempt) {
			o.collector.RecordUnitAttempt("failure")
			break
		}
		o.collector.RecordUnitAttempt("retry")

		rateLimited := llmerrors.Is(err, llmerrors.KindRateLimited)
		delay := o.policy.NextDelay(attempt, rateLimited)
		o.logger.Warn("Unit attempt failed, retrying",
			"job_id", job.ID,
			"unit_id", planned.ID,
			"attempt", attempt,
			"max_attempts", o.policy.MaxAttempts,
			"delay", delay,
			"error", err)
		o.reporter.PublishStatus(job.ID, models.GenerationStatus{
			UnitID:  planned.ID,
			Title:   planned.Title,
			Attempt: attempt,
			Stage:   models.StageAnalyzing,
			Message: fmt.Sprintf("Attempt %d failed, retrying in %s", attempt, delay.Round(time.Second)),
		})

		select {
		case <-ctx.Done():
			return models.Unit{}, llmerrors.New(llmerrors.KindAborted, "generation cancelled")
		case <-time.After(delay):
		}
	}

	o.collector.RecordUnitDone(string(models.UnitError), time.Since(start))
	o.logger.Error("Unit generation failed",
		"job_id", job.ID,
		"unit_id", planned.ID,
		"title", planned.Title,
		"error", lastErr)

	return models.Unit{
		ID:          uuid.NewString(),
		PlanUnitID:  planned.ID,
		Title:       planned.Title,
		Status:      models.UnitError,
		ErrorDetail: lastErr.Error(),
		CreatedAt:   time.Now(),
	}, nil
}

// attemptUnit runs a single generation attempt: it renders the unit prompt
// against the current completed-unit context, streams fragments into an
// accumulator while publishing live status, and validates the result length.
func (o *Orchestrator) attemptUnit(
	ctx context.Context,
	job *models.Job,
	planned models.PlannedUnit,
	session models.Session,
	attempt int,
) (models.Unit, error) {
	p, err := o.prompts.Unit(session, job.Plan, planned, job.CompletedUnits())
	if err != nil {
		return models.Unit{}, llmerrors.Wrap(llmerrors.KindConfiguration, err, "failed to render unit template")
	}
	full := o.prompts.System() + "\n\n" + p

	target := o.cfg.Generation.TargetUnitWords
	if session.TargetWords > 0 {
		target = session.TargetWords
	}
	baseWords := 0
	for _, u := range job.CompletedUnits() {
		baseWords += u.WordCount
	}

	var acc strings.Builder
	onDelta := func(delta string) {
		acc.WriteString(delta)
		words := util.CountWords(acc.String())
		frac := float64(words) / float64(target)
		progress := int(frac * float64(statusProgressCeiling))
		if progress > statusProgressCeiling {
			progress = statusProgressCeiling
		}
		o.reporter.PublishStatus(job.ID, models.GenerationStatus{
			UnitID:      planned.ID,
			Title:       planned.Title,
			Attempt:     attempt,
			Progress:    progress,
			PartialText: acc.String(),
			Stage:       stageFor(frac),
			TotalWords:  baseWords + words,
		})
	}

	content, err := o.gateway.Generate(ctx, full, provider.Options{OnDelta: onDelta})
	if err != nil {
		return models.Unit{}, err
	}

	content = strings.TrimSpace(content)
	words := util.CountWords(content)
	if words < o.cfg.Generation.MinUnitWords {
		return models.Unit{}, llmerrors.New(llmerrors.KindContentTooShort,
			"generated content too short: %d words (minimum %d)", words, o.cfg.Generation.MinUnitWords)
	}

	o.reporter.PublishStatus(job.ID, models.GenerationStatus{
		UnitID:     planned.ID,
		Title:      planned.Title,
		Attempt:    attempt,
		Progress:   100,
		Stage:      models.StageComplete,
		TotalWords: baseWords + words,
	})

	return models.Unit{
		ID:         uuid.NewString(),
		PlanUnitID: planned.ID,
		Title:      planned.Title,
		Content:    content,
		WordCount:  words,
		Status:     models.UnitCompleted,
		CreatedAt:  time.Now(),
	}, nil
}

// stageFor maps the fraction of the per-unit word target produced so far to
// a coarse stage label.
func stageFor(frac float64) models.GenerationStage {
	switch {
	case frac < 0.25:
		return models.StageAnalyzing
	case frac < 0.60:
		return models.StageWriting
	case frac < 0.85:
		return models.StageExamples
	default:
		return models.StagePolishing
	}
}
