// Package prompt builds the text sent to the provider gateway. Templates are
// pure string-building over session and plan data.
package prompt

import (
	"fmt"
	"strings"

	"github.com/lamim/lessonforge/internal/config"
	"github.com/lamim/lessonforge/internal/util"
	"github.com/lamim/lessonforge/pkg/models"
)

// Builder renders the configured prompt templates.
type Builder struct {
	templates config.PromptTemplates
	// Bounded continuity window fed into each unit prompt
	contextUnits int
	contextWords int
}

// NewBuilder creates a builder; empty template fields use the defaults.
func NewBuilder(templates config.PromptTemplates, contextUnits, contextWords int) *Builder {
	if templates.Roadmap == "" {
		templates.Roadmap = DefaultRoadmapTemplate
	}
	if templates.Unit == "" {
		templates.Unit = DefaultUnitTemplate
	}
	if templates.UnitSystem == "" {
		templates.UnitSystem = DefaultUnitSystemPrompt
	}
	if templates.Introduction == "" {
		templates.Introduction = DefaultIntroductionTemplate
	}
	if templates.Summary == "" {
		templates.Summary = DefaultSummaryTemplate
	}
	if templates.Glossary == "" {
		templates.Glossary = DefaultGlossaryTemplate
	}
	if contextUnits <= 0 {
		contextUnits = 2
	}
	if contextWords <= 0 {
		contextWords = 120
	}
	return &Builder{templates: templates, contextUnits: contextUnits, contextWords: contextWords}
}

// Roadmap builds the planning prompt.
func (b *Builder) Roadmap(session models.Session) (string, error) {
	return util.RenderTemplate(b.templates.Roadmap, map[string]interface{}{
		"Goal":       session.Goal,
		"Audience":   session.Audience,
		"Complexity": session.Complexity,
	})
}

// Unit builds the content prompt for one planned unit, incorporating the
// titles and leading content of the most recent completed units.
func (b *Builder) Unit(session models.Session, plan *models.Roadmap, unit models.PlannedUnit, completed []models.Unit) (string, error) {
	objectives := make([]string, 0, len(unit.Objectives))
	for _, obj := range unit.Objectives {
		objectives = append(objectives, "- "+obj)
	}

	return util.RenderTemplate(b.templates.Unit, map[string]interface{}{
		"Goal":            session.Goal,
		"Audience":        session.Audience,
		"Complexity":      session.Complexity,
		"Title":           unit.Title,
		"Objectives":      strings.Join(objectives, "\n"),
		"OrderIndex":      unit.OrderIndex,
		"TotalUnits":      plan.TotalUnits,
		"TargetWords":     session.TargetWords,
		"PreviousContext": b.previousContext(completed),
	})
}

// previousContext returns the bounded continuity window: the last N completed
// units' titles and leading words.
func (b *Builder) previousContext(completed []models.Unit) string {
	if len(completed) == 0 {
		return ""
	}
	start := len(completed) - b.contextUnits
	if start < 0 {
		start = 0
	}

	var sb strings.Builder
	for _, u := range completed[start:] {
		fmt.Fprintf(&sb, "## %s\n%s\n\n", u.Title, util.FirstWords(u.Content, b.contextWords))
	}
	return strings.TrimSpace(sb.String())
}

// Introduction builds the prompt for the introduction section.
func (b *Builder) Introduction(session models.Session, plan *models.Roadmap) (string, error) {
	return b.auxiliary(b.templates.Introduction, session, plan)
}

// Summary builds the prompt for the closing summary section.
func (b *Builder) Summary(session models.Session, plan *models.Roadmap) (string, error) {
	return b.auxiliary(b.templates.Summary, session, plan)
}

// Glossary builds the prompt for the glossary section.
func (b *Builder) Glossary(session models.Session, plan *models.Roadmap) (string, error) {
	return b.auxiliary(b.templates.Glossary, session, plan)
}

func (b *Builder) auxiliary(tmpl string, session models.Session, plan *models.Roadmap) (string, error) {
	titles := make([]string, 0, len(plan.Units))
	for _, pu := range plan.Units {
		titles = append(titles, fmt.Sprintf("%d. %s", pu.OrderIndex, pu.Title))
	}
	return util.RenderTemplate(tmpl, map[string]interface{}{
		"Goal":       session.Goal,
		"Audience":   session.Audience,
		"UnitTitles": strings.Join(titles, "\n"),
	})
}

// System returns the system prompt used for unit generation, prepended to
// unit prompts by the orchestrator.
func (b *Builder) System() string {
	return b.templates.UnitSystem
}
