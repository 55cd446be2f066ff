package pipeline

import (
	"sync"

	"github.com/lamim/lessonforge/pkg/models"
)

// JobUpdate is a coarse job-level progress notification.
type JobUpdate struct {
	Status   models.JobStatus
	Progress int
	Message  string
}

// JobObserver receives coarse job-level updates.
type JobObserver func(jobID string, update JobUpdate)

// StatusObserver receives fine-grained live generation telemetry.
type StatusObserver func(jobID string, status models.GenerationStatus)

// Reporter pushes structured status updates to registered observers.
// Delivery is fire-and-forget with no backpressure; calls are inherently
// sequential per job, so observers need no ordering defenses.
type Reporter struct {
	mu              sync.RWMutex
	jobObservers    []JobObserver
	statusObservers []StatusObserver
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

// OnJob registers a coarse job-level observer.
func (r *Reporter) OnJob(fn JobObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobObservers = append(r.jobObservers, fn)
}

// OnStatus registers a fine-grained generation status observer.
func (r *Reporter) OnStatus(fn StatusObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusObservers = append(r.statusObservers, fn)
}

// PublishJob delivers a job-level update to all observers.
func (r *Reporter) PublishJob(jobID string, update JobUpdate) {
	r.mu.RLock()
	observers := r.jobObservers
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(jobID, update)
	}
}

// PublishStatus delivers a generation status update to all observers.
func (r *Reporter) PublishStatus(jobID string, status models.GenerationStatus) {
	r.mu.RLock()
	observers := r.statusObservers
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(jobID, status)
	}
}
