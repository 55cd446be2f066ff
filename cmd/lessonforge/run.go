package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lamim/lessonforge/internal/book"
	"github.com/lamim/lessonforge/internal/checkpoint"
	"github.com/lamim/lessonforge/internal/config"
	"github.com/lamim/lessonforge/internal/llmerrors"
	"github.com/lamim/lessonforge/internal/metrics"
	"github.com/lamim/lessonforge/internal/pipeline"
	"github.com/lamim/lessonforge/internal/provider"
	"github.com/lamim/lessonforge/internal/util"
	"github.com/lamim/lessonforge/internal/writer"
	"github.com/lamim/lessonforge/pkg/models"
)

func runGeneration(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	resumeMode := resumeSession != ""
	sessionMgr, err := writer.NewSessionManager(slog.Default(), cfg.Generation.OutputDir, resumeSession)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("LessonForge starting",
		"version", Version,
		"config", configPath,
		"session_dir", sessionMgr.GetSessionDir(),
		"resume_mode", resumeMode)

	if !resumeMode {
		if err := sessionMgr.BackupConfig(configPath); err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
	}

	kv, err := openCheckpointStore(cfg.Generation.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error("failed to close checkpoint database", "error", err)
		}
	}()
	store := checkpoint.NewStore(kv, logger)

	collector := metrics.NewCollector()
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	gateway := provider.NewClient(cfg, secrets, collector, logger)

	reporter := pipeline.NewReporter()
	bar := progressbar.Default(100, "Starting")
	registerConsoleObservers(reporter, bar, verbose)

	orch := pipeline.New(cfg, gateway, store, reporter, collector, logger)

	job, session, err := prepareJob(sessionMgr, logger, resumeMode)
	if err != nil {
		return err
	}

	if info, ok := orch.GetCheckpointInfo(job.ID); ok {
		logger.Info("Found checkpoint",
			"job_id", job.ID,
			"completed", info.Completed,
			"failed", info.Failed,
			"saved", checkpoint.DescribeAge(info.SavedAt))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runErr := runPipeline(ctx, orch, sessionMgr, job, session)
	_ = bar.Finish()
	if runErr != nil {
		if llmerrors.Is(runErr, llmerrors.KindAborted) {
			sessionDir := filepath.Base(sessionMgr.GetSessionDir())
			logger.Warn("Generation interrupted - resume from checkpoint",
				"session_dir", sessionDir,
				"resume_command", fmt.Sprintf("lessonforge run --goal %q --resume %s", job.Goal, sessionDir))
			return fmt.Errorf("generation interrupted (resume with --resume %s)", sessionDir)
		}
		return runErr
	}

	logger.Info("Generation complete",
		"job_id", job.ID,
		"units", len(job.CompletedUnits()),
		"words", job.TotalWords,
		"duration", time.Since(start).Round(time.Second),
		"document", sessionMgr.GetBookPath())
	return nil
}

// prepareJob builds the job and session for this run, restoring the persisted
// job record in resume mode so the roadmap is not regenerated.
func prepareJob(sessionMgr *writer.SessionManager, logger *slog.Logger, resumeMode bool) (*models.Job, models.Session, error) {
	session := models.Session{
		Goal:        goal,
		Audience:    audience,
		Complexity:  complexity,
		TargetWords: targetWords,
	}

	if resumeMode {
		job, ok, err := sessionMgr.LoadJob()
		if err != nil {
			return nil, models.Session{}, err
		}
		if ok {
			if job.Goal != goal {
				logger.Warn("Resumed job has a different goal, keeping the stored one",
					"stored_goal", job.Goal, "flag_goal", goal)
			}
			session.Goal = job.Goal
			logger.Info("Restored job record",
				"job_id", job.ID,
				"status", job.Status,
				"units", len(job.Units))
			return job, session, nil
		}
		if goal == "" {
			return nil, models.Session{}, fmt.Errorf("resumed session has no job record; rerun with --goal")
		}
		logger.Warn("No job record in resumed session, starting fresh")
	}

	job := &models.Job{
		ID:        util.Slugify(goal),
		Goal:      goal,
		Status:    models.StatusPlanning,
		CreatedAt: time.Now(),
	}
	return job, session, nil
}

// runPipeline drives the stages in order, persisting the job record after
// each one so an interrupted run leaves a resumable state on disk.
func runPipeline(ctx context.Context, orch *pipeline.Orchestrator, sessionMgr *writer.SessionManager, job *models.Job, session models.Session) error {
	if job.Plan == nil {
		if _, err := orch.GenerateRoadmap(ctx, job, session); err != nil {
			_ = sessionMgr.SaveJob(job)
			return fmt.Errorf("roadmap stage failed: %w", err)
		}
		if err := sessionMgr.SaveJob(job); err != nil {
			return err
		}
	}

	if job.Status != models.StatusComplete && job.Status != models.StatusContentReady {
		if err := orch.GenerateAllUnitsWithRecovery(ctx, job, session); err != nil {
			_ = sessionMgr.SaveJob(job)
			return fmt.Errorf("content stage failed: %w", err)
		}
		if err := sessionMgr.SaveJob(job); err != nil {
			return err
		}
	}

	if retryFailed && len(job.FailedUnits()) > 0 {
		if err := orch.RetryFailedModules(ctx, job, session); err != nil {
			_ = sessionMgr.SaveJob(job)
			return fmt.Errorf("retry stage failed: %w", err)
		}
		if err := sessionMgr.SaveJob(job); err != nil {
			return err
		}
	}

	if job.Status == models.StatusFailed {
		sessionDir := filepath.Base(sessionMgr.GetSessionDir())
		return fmt.Errorf("%s (retry with --resume %s --retry-failed)", job.ErrorMessage, sessionDir)
	}

	if job.Status == models.StatusContentReady {
		if err := orch.AssembleFinalBook(ctx, job, session); err != nil {
			_ = sessionMgr.SaveJob(job)
			return fmt.Errorf("assembly stage failed: %w", err)
		}
		if err := sessionMgr.SaveJob(job); err != nil {
			return err
		}
		if err := sessionMgr.SaveBook(job.FinalDocument); err != nil {
			return err
		}
		html, err := book.RenderHTML(job.FinalDocument)
		if err != nil {
			return fmt.Errorf("failed to render HTML: %w", err)
		}
		if err := sessionMgr.SaveHTML(html); err != nil {
			return err
		}
	}

	return nil
}

// registerConsoleObservers wires pipeline progress into the terminal display.
func registerConsoleObservers(reporter *pipeline.Reporter, bar *progressbar.ProgressBar, verbose bool) {
	reporter.OnJob(func(jobID string, update pipeline.JobUpdate) {
		_ = bar.Set(update.Progress)
		if update.Message != "" {
			bar.Describe(update.Message)
		}
	})
	reporter.OnStatus(func(jobID string, status models.GenerationStatus) {
		if status.Message != "" {
			bar.Describe(status.Message)
			return
		}
		if verbose {
			bar.Describe(fmt.Sprintf("[%s] %s: %d%%", status.Stage, status.Title, status.Progress))
		}
	})
}

// serveMetrics exposes the Prometheus registry over HTTP.
func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped", "error", err)
	}
}
