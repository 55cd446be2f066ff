package models

import "time"

// JobStatus represents the pipeline stage a job is in.
type JobStatus string

const (
	StatusPlanning          JobStatus = "planning"
	StatusRoadmapGenerating JobStatus = "roadmap_generating"
	StatusRoadmapReady      JobStatus = "roadmap_ready"
	StatusContentGenerating JobStatus = "content_generating"
	StatusContentReady      JobStatus = "content_ready"
	StatusAssembling        JobStatus = "assembling"
	StatusComplete          JobStatus = "complete"
	StatusFailed            JobStatus = "failed"
)

// UnitStatus represents the outcome of one unit generation.
type UnitStatus string

const (
	UnitCompleted UnitStatus = "completed"
	UnitError     UnitStatus = "error"
)

// Session holds the user-supplied parameters for one generation run.
type Session struct {
	Goal        string `json:"goal"`
	Audience    string `json:"audience"`
	Complexity  string `json:"complexity"`
	TargetWords int    `json:"target_words"` // Per-unit target length used for progress estimation
}

// PlannedUnit is one entry in the roadmap produced by the planning stage.
type PlannedUnit struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Objectives    []string `json:"objectives"`
	EstimatedTime string   `json:"estimated_time"`
	OrderIndex    int      `json:"order_index"` // 1-based, contiguous
}

// Roadmap is the structured plan of the document.
type Roadmap struct {
	Units             []PlannedUnit `json:"units"`
	TotalUnits        int           `json:"total_units"`
	EstimatedDuration string        `json:"estimated_duration"`
	Difficulty        string        `json:"difficulty"`
}

// Unit is one generated content chapter. Units are immutable once created;
// a retry produces a new Unit with the same PlanUnitID that supersedes the old one.
type Unit struct {
	ID          string     `json:"id"`
	PlanUnitID  string     `json:"plan_unit_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	WordCount   int        `json:"word_count"`
	Status      UnitStatus `json:"status"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Job is one end-to-end document generation run.
type Job struct {
	ID            string    `json:"id"`
	Goal          string    `json:"goal"`
	Plan          *Roadmap  `json:"plan,omitempty"`
	Units         []Unit    `json:"units"`
	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"` // 0-100
	ErrorMessage  string    `json:"error_message,omitempty"`
	FinalDocument string    `json:"final_document,omitempty"`
	TotalWords    int       `json:"total_words,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// GenerationStage is a coarse tag describing how far along one unit is.
type GenerationStage string

const (
	StageAnalyzing GenerationStage = "analyzing"
	StageWriting   GenerationStage = "writing"
	StageExamples  GenerationStage = "examples"
	StagePolishing GenerationStage = "polishing"
	StageComplete  GenerationStage = "complete"
)

// GenerationStatus is live telemetry for one in-flight unit. It is transient
// and never persisted.
type GenerationStatus struct {
	UnitID      string          `json:"unit_id"`
	Title       string          `json:"title"`
	Attempt     int             `json:"attempt"`
	Progress    int             `json:"progress"` // 0-100 estimate
	PartialText string          `json:"partial_text,omitempty"`
	Stage       GenerationStage `json:"stage"`
	TotalWords  int             `json:"total_words"` // Aggregate words generated across the job
	Message     string          `json:"message,omitempty"`
}

// CompletedUnits returns the units currently in completed state, in slice order.
func (j *Job) CompletedUnits() []Unit {
	var out []Unit
	for _, u := range j.Units {
		if u.Status == UnitCompleted {
			out = append(out, u)
		}
	}
	return out
}

// FailedUnits returns the units currently in error state, in slice order.
func (j *Job) FailedUnits() []Unit {
	var out []Unit
	for _, u := range j.Units {
		if u.Status == UnitError {
			out = append(out, u)
		}
	}
	return out
}

// PlannedUnitByID resolves a plan unit by its id.
func (r *Roadmap) PlannedUnitByID(id string) (PlannedUnit, bool) {
	for _, pu := range r.Units {
		if pu.ID == id {
			return pu, true
		}
	}
	return PlannedUnit{}, false
}
