package pipeline

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/lamim/lessonforge/internal/checkpoint"
	"github.com/lamim/lessonforge/internal/config"
	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/internal/provider"
	"github.com/lamim/lessonforge/pkg/models"
)

// scriptedGateway routes prompts to handlers by recognizable template
// markers, tracking call counts per category.
type scriptedGateway struct {
	mu       sync.Mutex
	calls    map[string]int
	onUnit   func(title string, call int) (string, error)
	onPlan   func(call int) (string, error)
	onExtras func(kind string, call int) (string, error)
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{calls: make(map[string]int)}
}

func (g *scriptedGateway) category(prompt string) string {
	switch {
	case strings.Contains(prompt, "curriculum designer"):
		return "roadmap"
	case strings.Contains(prompt, "writing chapter"):
		return "unit"
	case strings.Contains(prompt, "Write an introduction"):
		return "introduction"
	case strings.Contains(prompt, "closing summary"):
		return "summary"
	case strings.Contains(prompt, "glossary"):
		return "glossary"
	default:
		return "unknown"
	}
}

func (g *scriptedGateway) Generate(ctx context.Context, prompt string, opts provider.Options) (string, error) {
	if ctx.Err() != nil {
		return "", llmerrors.New(llmerrors.KindAborted, "generation cancelled")
	}

	g.mu.Lock()
	cat := g.category(prompt)
	g.calls[cat]++
	call := g.calls[cat]
	g.mu.Unlock()

	var text string
	var err error
	switch cat {
	case "roadmap":
		if g.onPlan != nil {
			text, err = g.onPlan(call)
		} else {
			text, err = defaultRoadmapJSON, nil
		}
	case "unit":
		title := chapterTitle(prompt)
		if g.onUnit != nil {
			text, err = g.onUnit(title, call)
		} else {
			text, err = longContent(title), nil
		}
	default:
		if g.onExtras != nil {
			text, err = g.onExtras(cat, call)
		} else {
			text, err = "Generated "+cat+" text.", nil
		}
	}
	if err != nil {
		return "", err
	}
	if opts.OnDelta != nil {
		opts.OnDelta(text)
	}
	return text, nil
}

func (g *scriptedGateway) count(cat string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[cat]
}

// chapterTitle pulls the chapter title line out of a rendered unit prompt.
func chapterTitle(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "Chapter title: ") {
			return strings.TrimPrefix(line, "Chapter title: ")
		}
	}
	return ""
}

const defaultRoadmapJSON = `{
	"units": [
		{"title": "Goroutines", "objectives": ["Spawn goroutines"], "estimated_time": "30 minutes"},
		{"title": "Channels", "objectives": ["Use channels"], "estimated_time": "45 minutes"},
		{"title": "Select", "objectives": ["Multiplex channels"], "estimated_time": "30 minutes"}
	],
	"estimated_duration": "2 hours",
	"difficulty": "intermediate"
}`

// longContent produces content comfortably above the test minimum word count.
func longContent(title string) string {
	return "# " + title + "\n\n" + strings.Repeat("word ", 30)
}

func testConfig() *config.Config {
	return &config.Config{
		Generation: config.GenerationConfig{
			MinUnitWords:        10,
			TargetUnitWords:     30,
			InterUnitDelayMS:    1,
			RoadmapAttempts:     2,
			RoadmapRetryDelayMS: 1,
			ContextWindowUnits:  2,
			ContextWindowWords:  50,
		},
		Retry: config.RetryConfig{
			MaxUnitAttempts:      3,
			RetryDelayBaseMS:     1,
			MaxRetryDelayCapMS:   20,
			RateLimitDelayBaseMS: 1,
		},
	}
}

func newTestOrchestrator(gw provider.Gateway) (*Orchestrator, *checkpoint.Store) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := checkpoint.NewStore(checkpoint.NewMemoryKV(), logger)
	return New(testConfig(), gw, store, NewReporter(), nil, logger), store
}

func newTestJob() (*models.Job, models.Session) {
	job := &models.Job{
		ID:     "job-1",
		Goal:   "Learn Go concurrency",
		Status: models.StatusPlanning,
	}
	session := models.Session{
		Goal:       "Learn Go concurrency",
		Audience:   "developers",
		Complexity: "intermediate",
	}
	return job, session
}

func TestGenerateRoadmap_Success(t *testing.T) {
	gw := newScriptedGateway()
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()

	plan, err := orch.GenerateRoadmap(context.Background(), job, session)
	if err != nil {
		t.Fatalf("GenerateRoadmap failed: %v", err)
	}
	if plan.TotalUnits != 3 {
		t.Errorf("TotalUnits = %d, want 3", plan.TotalUnits)
	}
	if plan.Units[0].ID != "unit-1" || plan.Units[2].ID != "unit-3" {
		t.Errorf("unit ids = %v, %v", plan.Units[0].ID, plan.Units[2].ID)
	}
	if plan.Units[1].OrderIndex != 2 {
		t.Errorf("OrderIndex = %d, want 2", plan.Units[1].OrderIndex)
	}
	if job.Status != models.StatusRoadmapReady {
		t.Errorf("Status = %s", job.Status)
	}
	if job.Progress != 10 {
		t.Errorf("Progress = %d, want 10", job.Progress)
	}
}

func TestGenerateRoadmap_RetriesThenFails(t *testing.T) {
	gw := newScriptedGateway()
	gw.onPlan = func(call int) (string, error) {
		return "no json at all", nil
	}
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()

	_, err := orch.GenerateRoadmap(context.Background(), job, session)
	if err == nil {
		t.Fatal("expected error")
	}
	if gw.count("roadmap") != 2 {
		t.Errorf("roadmap attempts = %d, want 2", gw.count("roadmap"))
	}
	if job.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}
}

func TestGenerateRoadmap_MessyResponse(t *testing.T) {
	gw := newScriptedGateway()
	gw.onPlan = func(call int) (string, error) {
		return "Here is your roadmap!\n```json\n" + defaultRoadmapJSON + "\n```\nEnjoy!", nil
	}
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()

	plan, err := orch.GenerateRoadmap(context.Background(), job, session)
	if err != nil {
		t.Fatalf("GenerateRoadmap failed: %v", err)
	}
	if plan.TotalUnits != 3 {
		t.Errorf("TotalUnits = %d", plan.TotalUnits)
	}
}

func generatePlan(t *testing.T, orch *Orchestrator, job *models.Job, session models.Session) {
	t.Helper()
	if _, err := orch.GenerateRoadmap(context.Background(), job, session); err != nil {
		t.Fatalf("GenerateRoadmap failed: %v", err)
	}
}

func TestGenerateAllUnits_HappyPath(t *testing.T) {
	gw := newScriptedGateway()
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatalf("GenerateAllUnitsWithRecovery failed: %v", err)
	}

	if job.Status != models.StatusContentReady {
		t.Errorf("Status = %s, want content_ready", job.Status)
	}
	if job.Progress != 90 {
		t.Errorf("Progress = %d, want 90", job.Progress)
	}
	if got := len(job.CompletedUnits()); got != 3 {
		t.Errorf("completed units = %d, want 3", got)
	}
	if gw.count("unit") != 3 {
		t.Errorf("unit calls = %d, want 3", gw.count("unit"))
	}
	// Zero failures clears the checkpoint.
	if _, ok := store.Load(job.ID); ok {
		t.Error("checkpoint should be cleared after a clean pass")
	}
}

func TestGenerateAllUnits_PermanentFailureDegrades(t *testing.T) {
	gw := newScriptedGateway()
	gw.onUnit = func(title string, call int) (string, error) {
		if title == "Channels" {
			return "", llmerrors.New(llmerrors.KindMalformedResponse, "response was content filtered")
		}
		return longContent(title), nil
	}
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	// Per-unit failure degrades the job, it does not error the pass.
	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatalf("expected graceful degradation, got error: %v", err)
	}

	if job.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "1 failed module(s)") {
		t.Errorf("ErrorMessage = %q", job.ErrorMessage)
	}
	if !strings.Contains(job.ErrorMessage, "Successfully generated 2 modules") {
		t.Errorf("ErrorMessage = %q", job.ErrorMessage)
	}
	if got := len(job.FailedUnits()); got != 1 {
		t.Errorf("failed units = %d, want 1", got)
	}

	// Checkpoint survives for a later retry pass.
	cp, ok := store.Load(job.ID)
	if !ok {
		t.Fatal("checkpoint should be retained after failures")
	}
	if len(cp.CompletedPlanUnitIDs) != 2 || len(cp.FailedPlanUnitIDs) != 1 {
		t.Errorf("checkpoint sets = %v / %v", cp.CompletedPlanUnitIDs, cp.FailedPlanUnitIDs)
	}
	if cp.FailedPlanUnitIDs[0] != "unit-2" {
		t.Errorf("failed id = %s, want unit-2", cp.FailedPlanUnitIDs[0])
	}
}

func TestRetryFailedModules_Recovers(t *testing.T) {
	fail := true
	gw := newScriptedGateway()
	gw.onUnit = func(title string, call int) (string, error) {
		if title == "Channels" && fail {
			return "", llmerrors.New(llmerrors.KindMalformedResponse, "bad output")
		}
		return longContent(title), nil
	}
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}
	if job.Status != models.StatusFailed {
		t.Fatalf("precondition: Status = %s", job.Status)
	}

	fail = false
	if err := orch.RetryFailedModules(context.Background(), job, session); err != nil {
		t.Fatalf("RetryFailedModules failed: %v", err)
	}

	if job.Status != models.StatusContentReady {
		t.Errorf("Status = %s, want content_ready", job.Status)
	}
	if job.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want cleared", job.ErrorMessage)
	}
	if got := len(job.CompletedUnits()); got != 3 {
		t.Errorf("completed units = %d, want 3", got)
	}
	// The recovered unit supersedes the failed one.
	if got := len(job.Units); got != 3 {
		t.Errorf("total units = %d, want 3", got)
	}
	if _, ok := store.Load(job.ID); ok {
		t.Error("checkpoint should be cleared after full recovery")
	}
}

func TestGenerateAllUnits_ResumeSkipsCompleted(t *testing.T) {
	gw := newScriptedGateway()
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	// A prior run completed unit-1.
	store.Save(job.ID, []string{"unit-1"}, nil, 1, map[string]int{"unit-1": 1})

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	if gw.count("unit") != 2 {
		t.Errorf("unit calls = %d, want 2 (unit-1 resumed)", gw.count("unit"))
	}
	if job.Status != models.StatusContentReady {
		t.Errorf("Status = %s", job.Status)
	}
}

func TestGenerateAllUnits_IdempotentWhenAllDone(t *testing.T) {
	gw := newScriptedGateway()
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	store.Save(job.ID, []string{"unit-1", "unit-2", "unit-3"}, nil, 3, nil)

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	if gw.count("unit") != 0 {
		t.Errorf("unit calls = %d, want 0", gw.count("unit"))
	}
	if job.Status != models.StatusContentReady || job.Progress != 90 {
		t.Errorf("Status = %s, Progress = %d", job.Status, job.Progress)
	}
}

func TestGenerateAllUnits_ShortContentRetried(t *testing.T) {
	gw := newScriptedGateway()
	gw.onUnit = func(title string, call int) (string, error) {
		if title == "Goroutines" && call == 1 {
			return "too short", nil
		}
		return longContent(title), nil
	}
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	if job.Status != models.StatusContentReady {
		t.Errorf("Status = %s", job.Status)
	}
	if gw.count("unit") != 4 {
		t.Errorf("unit calls = %d, want 4 (one short-content retry)", gw.count("unit"))
	}
}

func TestGenerateAllUnits_FailedUnitStillReported(t *testing.T) {
	gw := newScriptedGateway()
	gw.onUnit = func(title string, call int) (string, error) {
		if title == "Channels" {
			return "", llmerrors.New(llmerrors.KindMalformedResponse, "response was content filtered")
		}
		return longContent(title), nil
	}
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	var mu sync.Mutex
	var jobUpdates []JobUpdate
	orch.Reporter().OnJob(func(jobID string, u JobUpdate) {
		mu.Lock()
		jobUpdates = append(jobUpdates, u)
		mu.Unlock()
	})

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	// The failed unit still produces a job-level update, at the progress the
	// last completed unit left behind.
	var failedUpdate *JobUpdate
	for i, u := range jobUpdates {
		if strings.Contains(u.Message, "failed: Channels") {
			failedUpdate = &jobUpdates[i]
		}
	}
	if failedUpdate == nil {
		t.Fatalf("no job update for the failed unit; messages: %v", messages(jobUpdates))
	}
	if want := unitProgress(1, 3); failedUpdate.Progress != want {
		t.Errorf("failed-unit update Progress = %d, want %d (unchanged)", failedUpdate.Progress, want)
	}
}

func messages(updates []JobUpdate) []string {
	out := make([]string, len(updates))
	for i, u := range updates {
		out[i] = u.Message
	}
	return out
}

func TestGenerateAllUnits_ShortContentExhaustsBudget(t *testing.T) {
	gw := newScriptedGateway()
	gw.onUnit = func(title string, call int) (string, error) {
		if title == "Channels" {
			return "alpha beta gamma delta epsilon", nil
		}
		return longContent(title), nil
	}
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	// Short content is retryable, so the whole attempt budget is spent on it.
	if got := gw.count("unit"); got != 5 {
		t.Errorf("unit calls = %d, want 5 (2 ok + 3 short attempts)", got)
	}
	failed := job.FailedUnits()
	if len(failed) != 1 {
		t.Fatalf("failed units = %d, want 1", len(failed))
	}
	if failed[0].Status != models.UnitError {
		t.Errorf("Status = %s, want error", failed[0].Status)
	}
	if !strings.Contains(failed[0].ErrorDetail, "5 words") || !strings.Contains(failed[0].ErrorDetail, "minimum 10") {
		t.Errorf("ErrorDetail = %q, want the word count and minimum", failed[0].ErrorDetail)
	}
}

func TestGenerateAllUnits_RateLimitedExhaustion(t *testing.T) {
	gw := newScriptedGateway()
	gw.onUnit = func(title string, call int) (string, error) {
		if title == "Select" {
			return "", llmerrors.New(llmerrors.KindRateLimited, "rate limit exceeded")
		}
		return longContent(title), nil
	}
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	if got := gw.count("unit"); got != 5 {
		t.Errorf("unit calls = %d, want 5 (2 ok + 3 rate-limited attempts)", got)
	}
	if job.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}
	if job.ErrorMessage != "1 failed module(s). Successfully generated 2 modules." {
		t.Errorf("ErrorMessage = %q", job.ErrorMessage)
	}

	cp, ok := store.Load(job.ID)
	if !ok {
		t.Fatal("checkpoint should be retained after failures")
	}
	if len(cp.FailedPlanUnitIDs) != 1 || cp.FailedPlanUnitIDs[0] != "unit-3" {
		t.Errorf("failed set = %v, want [unit-3]", cp.FailedPlanUnitIDs)
	}
	if cp.RetryCounts["unit-3"] != 3 {
		t.Errorf("RetryCounts[unit-3] = %d, want 3", cp.RetryCounts["unit-3"])
	}
}

func TestRetryFailedModules_StillFailingReported(t *testing.T) {
	gw := newScriptedGateway()
	gw.onUnit = func(title string, call int) (string, error) {
		if title == "Channels" {
			return "", llmerrors.New(llmerrors.KindMalformedResponse, "bad output")
		}
		return longContent(title), nil
	}
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)
	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var jobUpdates []JobUpdate
	orch.Reporter().OnJob(func(jobID string, u JobUpdate) {
		mu.Lock()
		jobUpdates = append(jobUpdates, u)
		mu.Unlock()
	})

	if err := orch.RetryFailedModules(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	if job.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}
	var sawOutcome bool
	for _, u := range jobUpdates {
		if strings.Contains(u.Message, "failed again: Channels") {
			sawOutcome = true
		}
	}
	if !sawOutcome {
		t.Errorf("no job update for the still-failing unit; messages: %v", messages(jobUpdates))
	}
}

func TestGenerateAllUnits_HardStopAborts(t *testing.T) {
	gw := newScriptedGateway()
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	gw.onUnit = func(title string, call int) (string, error) {
		calls++
		if calls == 2 {
			cancel()
			return "", llmerrors.New(llmerrors.KindAborted, "generation cancelled")
		}
		return longContent(title), nil
	}

	err := orch.GenerateAllUnitsWithRecovery(ctx, job, session)
	if !llmerrors.Is(err, llmerrors.KindAborted) {
		t.Fatalf("expected aborted error, got %v", err)
	}

	// Work finished before the interruption is checkpointed.
	cp, ok := store.Load(job.ID)
	if !ok {
		t.Fatal("expected checkpoint after interruption")
	}
	if len(cp.CompletedPlanUnitIDs) != 1 || cp.CompletedPlanUnitIDs[0] != "unit-1" {
		t.Errorf("completed = %v", cp.CompletedPlanUnitIDs)
	}
}

func TestGenerateAllUnits_NoPlan(t *testing.T) {
	gw := newScriptedGateway()
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()

	err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session)
	if !llmerrors.Is(err, llmerrors.KindConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestAssembleFinalBook_Success(t *testing.T) {
	gw := newScriptedGateway()
	orch, store := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)
	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	if err := orch.AssembleFinalBook(context.Background(), job, session); err != nil {
		t.Fatalf("AssembleFinalBook failed: %v", err)
	}

	if job.Status != models.StatusComplete || job.Progress != 100 {
		t.Errorf("Status = %s, Progress = %d", job.Status, job.Progress)
	}
	if job.FinalDocument == "" {
		t.Fatal("FinalDocument is empty")
	}
	if job.TotalWords == 0 {
		t.Error("TotalWords not set")
	}
	for _, cat := range []string{"introduction", "summary", "glossary"} {
		if gw.count(cat) != 1 {
			t.Errorf("%s calls = %d, want 1", cat, gw.count(cat))
		}
	}
	// Units appear in plan order.
	g := strings.Index(job.FinalDocument, "# Goroutines")
	c := strings.Index(job.FinalDocument, "# Channels")
	s := strings.Index(job.FinalDocument, "# Select")
	if g < 0 || c < 0 || s < 0 || !(g < c && c < s) {
		t.Errorf("unit order wrong: %d %d %d", g, c, s)
	}
	if _, ok := store.Load(job.ID); ok {
		t.Error("checkpoint should be cleared on completion")
	}
}

func TestAssembleFinalBook_SectionFailure(t *testing.T) {
	gw := newScriptedGateway()
	gw.onExtras = func(kind string, call int) (string, error) {
		if kind == "summary" {
			return "", llmerrors.New(llmerrors.KindMalformedResponse, "empty completion content")
		}
		return "Generated " + kind + " text.", nil
	}
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()
	generatePlan(t, orch, job, session)
	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	err := orch.AssembleFinalBook(context.Background(), job, session)
	if err == nil {
		t.Fatal("expected error")
	}
	if job.Status != models.StatusFailed {
		t.Errorf("Status = %s, want failed", job.Status)
	}
	// No partial document on failure.
	if job.FinalDocument != "" {
		t.Error("FinalDocument should be empty on assembly failure")
	}
}

func TestAssembleFinalBook_RequiresContentReady(t *testing.T) {
	gw := newScriptedGateway()
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()

	err := orch.AssembleFinalBook(context.Background(), job, session)
	if !llmerrors.Is(err, llmerrors.KindConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestUnitProgress_Band(t *testing.T) {
	if got := unitProgress(0, 3); got != 15 {
		t.Errorf("unitProgress(0,3) = %d, want 15", got)
	}
	if got := unitProgress(3, 3); got != 85 {
		t.Errorf("unitProgress(3,3) = %d, want 85", got)
	}
	if got := unitProgress(1, 3); got <= 15 || got >= 85 {
		t.Errorf("unitProgress(1,3) = %d, want inside (15,85)", got)
	}
	if got := unitProgress(0, 0); got != 15 {
		t.Errorf("unitProgress(0,0) = %d, want 15", got)
	}
}

func TestReporter_DeliversUpdates(t *testing.T) {
	gw := newScriptedGateway()
	orch, _ := newTestOrchestrator(gw)
	job, session := newTestJob()

	var mu sync.Mutex
	var jobUpdates []JobUpdate
	var statuses []models.GenerationStatus
	orch.Reporter().OnJob(func(jobID string, u JobUpdate) {
		mu.Lock()
		jobUpdates = append(jobUpdates, u)
		mu.Unlock()
	})
	orch.Reporter().OnStatus(func(jobID string, s models.GenerationStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	generatePlan(t, orch, job, session)
	if err := orch.GenerateAllUnitsWithRecovery(context.Background(), job, session); err != nil {
		t.Fatal(err)
	}

	if len(jobUpdates) == 0 {
		t.Fatal("no job updates delivered")
	}
	last := jobUpdates[len(jobUpdates)-1]
	if last.Status != models.StatusContentReady || last.Progress != 90 {
		t.Errorf("last update = %+v", last)
	}

	// Each unit publishes at least a start and a completion status.
	if len(statuses) < 6 {
		t.Errorf("statuses = %d, want at least 6", len(statuses))
	}
	var sawComplete bool
	for _, s := range statuses {
		if s.Stage == models.StageComplete && s.Progress == 100 {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("no completion status observed")
	}
}
