// Package book assembles completed units and auxiliary sections into the
// final document. Assembly is pure string-building; rendering to HTML is the
// only extra capability.
package book

import (
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/lamim/lessonforge/internal/util"
	"github.com/lamim/lessonforge/pkg/models"
)

const sectionDivider = "\n\n---\n\n"

// Sections holds the three auxiliary generated sections.
type Sections struct {
	Introduction string
	Summary      string
	Glossary     string
}

// Assemble combines the plan-ordered completed units and auxiliary sections
// into one markdown document and returns it with the total unit word count.
func Assemble(job *models.Job, session models.Session, sections Sections, units []models.Unit) (string, int) {
	var sb strings.Builder

	title := strings.TrimSpace(session.Goal)
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)

	difficulty := ""
	duration := ""
	if job.Plan != nil {
		difficulty = job.Plan.Difficulty
		duration = job.Plan.EstimatedDuration
	}
	fmt.Fprintf(&sb, "*Generated %s | %d chapters", time.Now().Format("2006-01-02"), len(units))
	if difficulty != "" {
		fmt.Fprintf(&sb, " | %s", difficulty)
	}
	if duration != "" {
		fmt.Fprintf(&sb, " | %s", duration)
	}
	sb.WriteString("*\n\n")

	sb.WriteString("## Table of Contents\n\n")
	for i, u := range units {
		fmt.Fprintf(&sb, "%d. [%s](#%s)\n", i+1, u.Title, util.Slugify(u.Title))
	}

	sb.WriteString(sectionDivider)
	sb.WriteString("## Introduction\n\n")
	sb.WriteString(strings.TrimSpace(sections.Introduction))

	totalWords := 0
	for _, u := range units {
		totalWords += u.WordCount
		sb.WriteString(sectionDivider)
		sb.WriteString(strings.TrimSpace(u.Content))
	}

	sb.WriteString(sectionDivider)
	sb.WriteString("## Summary\n\n")
	sb.WriteString(strings.TrimSpace(sections.Summary))

	sb.WriteString(sectionDivider)
	sb.WriteString("## Glossary\n\n")
	sb.WriteString(strings.TrimSpace(sections.Glossary))
	sb.WriteString("\n")

	return sb.String(), totalWords
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderHTML converts the assembled markdown document to HTML.
func RenderHTML(doc string) (string, error) {
	var out strings.Builder
	if err := markdown.Convert([]byte(doc), &out); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return out.String(), nil
}
