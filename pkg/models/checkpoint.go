package models

import "time"

// Checkpoint is the durable recovery record for one job. Completed and failed
// sets are disjoint; a plan unit id appears in at most one of them.
type Checkpoint struct {
	JobID                string         `json:"job_id"`
	CompletedPlanUnitIDs []string       `json:"completed_plan_unit_ids"`
	FailedPlanUnitIDs    []string       `json:"failed_plan_unit_ids"`
	RetryCounts          map[string]int `json:"retry_counts"`
	LastIndex            int            `json:"last_index"`
	SavedAt              time.Time      `json:"saved_at"`
}

// CompletedSet returns the completed plan unit ids as a set.
func (c *Checkpoint) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(c.CompletedPlanUnitIDs))
	for _, id := range c.CompletedPlanUnitIDs {
		set[id] = true
	}
	return set
}

// FailedSet returns the failed plan unit ids as a set.
func (c *Checkpoint) FailedSet() map[string]bool {
	set := make(map[string]bool, len(c.FailedPlanUnitIDs))
	for _, id := range c.FailedPlanUnitIDs {
		set[id] = true
	}
	return set
}
