// Package checkpoint persists per-job recovery records. The in-memory cache
// is authoritative for the process lifetime; the durable KV write is
// best-effort and a failure there never fails a save.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lamim/lessonforge/pkg/models"
)

// KeyPrefix is the durable slot naming convention: KeyPrefix + jobID.
const KeyPrefix = "checkpoint:"

// Store is the checkpoint store. The orchestrator is the single writer per
// jobID by construction, so no per-job locking beyond the map mutex is needed.
type Store struct {
	mu     sync.RWMutex
	cache  map[string]*models.Checkpoint
	kv     KV
	logger *slog.Logger
}

// NewStore creates a store over the given durable KV.
func NewStore(kv KV, logger *slog.Logger) *Store {
	return &Store{
		cache:  make(map[string]*models.Checkpoint),
		kv:     kv,
		logger: logger,
	}
}

// Save records a job's progress. The durable write is best-effort: on failure
// it is logged and the in-memory copy remains authoritative.
func (s *Store) Save(jobID string, completedIDs, failedIDs []string, lastIndex int, retryCounts map[string]int) {
	cp := &models.Checkpoint{
		JobID:                jobID,
		CompletedPlanUnitIDs: append([]string{}, completedIDs...),
		FailedPlanUnitIDs:    append([]string{}, failedIDs...),
		RetryCounts:          copyCounts(retryCounts),
		LastIndex:            lastIndex,
		SavedAt:              time.Now(),
	}

	s.mu.Lock()
	s.cache[jobID] = cp
	s.mu.Unlock()

	data, err := json.Marshal(cp)
	if err != nil {
		s.logger.Warn("Failed to serialize checkpoint", "job_id", jobID, "error", err)
		return
	}
	if err := s.kv.Set(KeyPrefix+jobID, data); err != nil {
		s.logger.Warn("Failed to persist checkpoint durably", "job_id", jobID, "error", err)
	}
}

// Load returns the checkpoint for a job, preferring the in-memory cache and
// falling back to the durable slot. The returned copy is safe to mutate.
func (s *Store) Load(jobID string) (*models.Checkpoint, bool) {
	s.mu.RLock()
	cached, ok := s.cache[jobID]
	s.mu.RUnlock()
	if ok {
		return copyCheckpoint(cached), true
	}

	data, found, err := s.kv.Get(KeyPrefix + jobID)
	if err != nil {
		s.logger.Warn("Failed to read durable checkpoint", "job_id", jobID, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("Failed to decode durable checkpoint", "job_id", jobID, "error", err)
		return nil, false
	}
	if cp.RetryCounts == nil {
		cp.RetryCounts = make(map[string]int)
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}

	s.mu.Lock()
	s.cache[jobID] = copyCheckpoint(&cp)
	s.mu.Unlock()

	return &cp, true
}

// Clear removes both the in-memory and durable copies. Used once a job's
// content stage completes with zero failures.
func (s *Store) Clear(jobID string) {
	s.mu.Lock()
	delete(s.cache, jobID)
	s.mu.Unlock()

	if err := s.kv.Delete(KeyPrefix + jobID); err != nil {
		s.logger.Warn("Failed to delete durable checkpoint", "job_id", jobID, "error", err)
	}
}

// Has reports whether a checkpoint exists for the job.
func (s *Store) Has(jobID string) bool {
	_, ok := s.Load(jobID)
	return ok
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyCheckpoint(cp *models.Checkpoint) *models.Checkpoint {
	out := &models.Checkpoint{
		JobID:                cp.JobID,
		CompletedPlanUnitIDs: append([]string{}, cp.CompletedPlanUnitIDs...),
		FailedPlanUnitIDs:    append([]string{}, cp.FailedPlanUnitIDs...),
		RetryCounts:          copyCounts(cp.RetryCounts),
		LastIndex:            cp.LastIndex,
		SavedAt:              cp.SavedAt,
	}
	return out
}

// DescribeAge renders how long ago a checkpoint was saved, for CLI display.
func DescribeAge(savedAt time.Time) string {
	return fmt.Sprintf("%s ago", time.Since(savedAt).Round(time.Second))
}
