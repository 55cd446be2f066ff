package prompt

// Built-in prompt templates, overridable via [prompt_templates] in the config
// file. They use Go text/template syntax and are rendered through
// util.RenderTemplate.

// DefaultRoadmapTemplate asks for the structured plan as a bare JSON object.
const DefaultRoadmapTemplate = `You are an expert curriculum designer. Create a learning roadmap for the goal below.

Goal: {{.Goal}}
Audience: {{.Audience}}
Complexity: {{.Complexity}}

Respond with ONLY a JSON object of this exact shape, no prose and no markdown fences:
{
  "units": [
    {
      "title": "string",
      "objectives": ["string", "string"],
      "estimated_time": "string"
    }
  ],
  "estimated_duration": "string",
  "difficulty": "beginner|intermediate|advanced"
}

Create between 4 and 10 units, each focused on one coherent topic, ordered so later units build on earlier ones.`

// DefaultUnitTemplate generates one chapter, threading in recent completed
// content for continuity.
const DefaultUnitTemplate = `You are writing chapter {{.OrderIndex}} of {{.TotalUnits}} of a learning document.

Document goal: {{.Goal}}
Audience: {{.Audience}}
Complexity: {{.Complexity}}

Chapter title: {{.Title}}
Learning objectives:
{{.Objectives}}
{{if .PreviousContext}}
The document so far (for continuity, do not repeat it):
{{.PreviousContext}}
{{end}}
Write the full chapter in markdown. Start with a heading, cover every objective, include concrete examples, and end with a short recap. Aim for roughly {{.TargetWords}} words. Do not write content for other chapters.`

const DefaultUnitSystemPrompt = `You are a patient, precise technical writer. You produce complete, self-contained chapters in clean markdown.`

const DefaultIntroductionTemplate = `Write an introduction for a learning document.

Goal: {{.Goal}}
Audience: {{.Audience}}
Chapters:
{{.UnitTitles}}

Write 2-4 markdown paragraphs welcoming the reader, explaining what the document covers and who it is for. No heading.`

const DefaultSummaryTemplate = `Write a closing summary for a learning document.

Goal: {{.Goal}}
Chapters:
{{.UnitTitles}}

Write 2-3 markdown paragraphs recapping the key themes and suggesting next steps. No heading.`

const DefaultGlossaryTemplate = `Produce a glossary for a learning document about: {{.Goal}}

Chapters:
{{.UnitTitles}}

List 10-20 key terms with one-sentence definitions as a markdown bullet list ("- **Term**: definition"). No heading.`
