package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/internal/provider"
	"github.com/lamim/lessonforge/internal/util"
	"github.com/lamim/lessonforge/pkg/models"
)

// ErrRoadmapFailed is returned when the roadmap stage exhausts its attempts.
var ErrRoadmapFailed = errors.New("roadmap generation failed")

// roadmapWire is the shape the planning prompt asks the model for.
type roadmapWire struct {
	Units []struct {
		Title         string   `json:"title"`
		Objectives    []string `json:"objectives"`
		EstimatedTime string   `json:"estimated_time"`
	} `json:"units"`
	EstimatedDuration string `json:"estimated_duration"`
	Difficulty        string `json:"difficulty"`
}

// GenerateRoadmap runs the planning stage: it prompts for a structured plan,
// parses and normalizes it, and attaches it to the job. The whole stage is
// retried a small fixed number of times; on exhaustion the job is marked
// failed and the error surfaces to the caller.
func (o *Orchestrator) GenerateRoadmap(ctx context.Context, job *models.Job, session models.Session) (*models.Roadmap, error) {
	jctx, done := o.registerJob(ctx, job.ID)
	defer done()

	job.Status = models.StatusRoadmapGenerating
	job.Progress = progressRoadmapStart
	o.publishJob(job, "Generating roadmap")

	p, err := o.prompts.Roadmap(session)
	if err != nil {
		return nil, fmt.Errorf("failed to render roadmap template: %w", err)
	}

	attempts := o.cfg.Generation.RoadmapAttempts
	delay := time.Duration(o.cfg.Generation.RoadmapRetryDelayMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, genErr := o.gateway.Generate(jctx, p, provider.Options{})
		if genErr == nil {
			plan, parseErr := parseRoadmap(raw)
			if parseErr == nil {
				job.Plan = plan
				job.Status = models.StatusRoadmapReady
				job.Progress = progressRoadmapDone
				o.publishJob(job, fmt.Sprintf("Roadmap ready: %d units", plan.TotalUnits))
				o.logger.Info("Roadmap generated",
					"job_id", job.ID,
					"units", plan.TotalUnits,
					"difficulty", plan.Difficulty,
					"attempt", attempt)
				return plan, nil
			}
			o.logger.Debug("Roadmap response unparsable",
				"job_id", job.ID,
				"raw", util.TruncateString(raw, 200))
			genErr = parseErr
		}

		if isHardStop(genErr) {
			return nil, genErr
		}

		lastErr = genErr
		o.logger.Warn("Roadmap attempt failed",
			"job_id", job.ID,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", genErr)

		if attempt < attempts {
			select {
			case <-jctx.Done():
				return nil, llmerrors.New(llmerrors.KindAborted, "generation cancelled")
			case <-time.After(delay):
			}
		}
	}

	job.Status = models.StatusFailed
	job.ErrorMessage = fmt.Sprintf("roadmap generation failed: %v", lastErr)
	o.publishJob(job, job.ErrorMessage)
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRoadmapFailed, attempts, lastErr)
}

// parseRoadmap extracts, parses, and normalizes the model's plan response:
// strips code fences, takes the first balanced object, fills per-unit
// defaults, and assigns contiguous 1-based order indices.
func parseRoadmap(raw string) (*models.Roadmap, error) {
	jsonStr := util.SanitizeJSON(util.ExtractJSON(raw))

	var wire roadmapWire
	if err := json.Unmarshal([]byte(jsonStr), &wire); err != nil {
		return nil, fmt.Errorf("failed to parse roadmap: %w", err)
	}
	if len(wire.Units) == 0 {
		return nil, fmt.Errorf("roadmap contains no units")
	}

	plan := &models.Roadmap{
		Units:             make([]models.PlannedUnit, 0, len(wire.Units)),
		TotalUnits:        len(wire.Units),
		EstimatedDuration: wire.EstimatedDuration,
		Difficulty:        wire.Difficulty,
	}

	for i, wu := range wire.Units {
		pu := models.PlannedUnit{
			ID:            fmt.Sprintf("unit-%d", i+1),
			Title:         wu.Title,
			Objectives:    wu.Objectives,
			EstimatedTime: wu.EstimatedTime,
			OrderIndex:    i + 1,
		}
		if pu.Title == "" {
			pu.Title = fmt.Sprintf("Unit %d", i+1)
		}
		if len(pu.Objectives) == 0 {
			pu.Objectives = []string{"Understand " + pu.Title}
		}
		if pu.EstimatedTime == "" {
			pu.EstimatedTime = "45 minutes"
		}
		plan.Units = append(plan.Units, pu)
	}

	if plan.Difficulty == "" {
		plan.Difficulty = "intermediate"
	}
	if plan.EstimatedDuration == "" {
		plan.EstimatedDuration = fmt.Sprintf("%d hours", plan.TotalUnits)
	}

	return plan, nil
}
