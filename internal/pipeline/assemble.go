package pipeline

import (
	"context"
	"fmt"

	"github.com/lamim/lessonforge/internal/book"
	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/internal/provider"
	"github.com/lamim/lessonforge/pkg/models"
)

// sectionResult carries one auxiliary section back from its goroutine.
type sectionResult struct {
	name string
	text string
	err  error
}

// AssembleFinalBook generates the introduction, summary, and glossary
// concurrently, then assembles the final document from the plan-ordered
// completed units. Any section failure cancels the others and fails the job
// without producing a partial document.
func (o *Orchestrator) AssembleFinalBook(ctx context.Context, job *models.Job, session models.Session) error {
	if job.Status != models.StatusContentReady {
		return llmerrors.New(llmerrors.KindConfiguration,
			"cannot assemble: job status is %s, want %s", job.Status, models.StatusContentReady)
	}

	jctx, done := o.registerJob(ctx, job.ID)
	defer done()

	job.Status = models.StatusAssembling
	o.publishJob(job, "Assembling final document")

	sctx, cancel := context.WithCancel(jctx)
	defer cancel()

	type sectionPrompt func() (string, error)
	prompts := []struct {
		name   string
		render sectionPrompt
	}{
		{"introduction", func() (string, error) { return o.prompts.Introduction(session, job.Plan) }},
		{"summary", func() (string, error) { return o.prompts.Summary(session, job.Plan) }},
		{"glossary", func() (string, error) { return o.prompts.Glossary(session, job.Plan) }},
	}

	results := make(chan sectionResult, len(prompts))
	for _, sp := range prompts {
		go func(name string, render sectionPrompt) {
			p, err := render()
			if err != nil {
				results <- sectionResult{name: name, err: err}
				return
			}
			text, err := o.gateway.Generate(sctx, p, provider.Options{})
			results <- sectionResult{name: name, text: text, err: err}
		}(sp.name, sp.render)
	}

	var sections book.Sections
	var firstErr error
	for range prompts {
		res := <-results
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to generate %s: %w", res.name, res.err)
				cancel()
			}
			continue
		}
		switch res.name {
		case "introduction":
			sections.Introduction = res.text
		case "summary":
			sections.Summary = res.text
		case "glossary":
			sections.Glossary = res.text
		}
	}

	if firstErr != nil {
		job.Status = models.StatusFailed
		job.ErrorMessage = firstErr.Error()
		o.publishJob(job, job.ErrorMessage)
		return firstErr
	}

	// Completed units in plan order, regardless of generation order.
	units := make([]models.Unit, 0, len(job.Plan.Units))
	byPlanID := make(map[string]models.Unit, len(job.Units))
	for _, u := range job.CompletedUnits() {
		byPlanID[u.PlanUnitID] = u
	}
	for _, pu := range job.Plan.Units {
		if u, ok := byPlanID[pu.ID]; ok {
			units = append(units, u)
		}
	}

	doc, words := book.Assemble(job, session, sections, units)
	job.FinalDocument = doc
	job.TotalWords = words
	job.Status = models.StatusComplete
	job.Progress = progressComplete
	o.checkpoints.Clear(job.ID)
	o.publishJob(job, fmt.Sprintf("Document complete: %d units, %d words", len(units), words))
	o.logger.Info("Document assembled",
		"job_id", job.ID,
		"units", len(units),
		"words", words)
	return nil
}
