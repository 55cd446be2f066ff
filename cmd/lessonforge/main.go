package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lamim/lessonforge/internal/checkpoint"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath    string
	envFile       string
	verbose       bool
	goal          string
	audience      string
	complexity    string
	targetWords   int
	resumeSession string
	retryFailed   bool
	metricsAddr   string
	outputDir     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lessonforge",
		Short: "LessonForge - Structured Learning Document Generator",
		Long: `LessonForge generates complete structured learning documents using LLMs:
it plans a roadmap for a learning goal, generates each unit's content with
retry and checkpointed recovery, and assembles the final document.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the document generation pipeline",
		Long: `Run the complete generation pipeline:
1. Generate a roadmap for the learning goal
2. Generate each unit's content with retry and checkpointing
3. Assemble the final document with introduction, summary, and glossary`,
		RunE: runGeneration,
	}

	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	runCmd.Flags().StringVar(&goal, "goal", "", "Learning goal to generate a document for (required)")
	runCmd.Flags().StringVar(&audience, "audience", "general readers", "Intended audience")
	runCmd.Flags().StringVar(&complexity, "complexity", "intermediate", "Content complexity: beginner, intermediate, or advanced")
	runCmd.Flags().IntVar(&targetWords, "target-words", 0, "Per-unit word target (0 uses the configured default)")
	runCmd.Flags().StringVar(&resumeSession, "resume", "", "Session directory name to resume (e.g. session_2026-01-02T15-04-05)")
	runCmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "After the main pass, retry units that still failed")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	_ = runCmd.MarkFlagRequired("goal")

	retryCmd := &cobra.Command{
		Use:   "retry <session-dir>",
		Short: "Retry failed units in an existing session",
		Long: `Resume an existing session and regenerate only the units that failed,
then assemble the document if everything succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resumeSession = args[0]
			retryFailed = true
			return runGeneration(cmd, nil)
		},
	}

	assembleCmd := &cobra.Command{
		Use:   "assemble <session-dir>",
		Short: "Resume a session and finish whatever stages remain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resumeSession = args[0]
			return runGeneration(cmd, nil)
		},
	}

	for _, c := range []*cobra.Command{retryCmd, assembleCmd} {
		c.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
		c.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
		c.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
		Long:  "Manage generation checkpoints for resuming interrupted runs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all stored checkpoints",
		RunE:  listCheckpoints,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <job-id>",
		Short: "Inspect a checkpoint",
		Long:  "Display detailed information about the checkpoint for a job",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCheckpoint,
	}

	clearCmd := &cobra.Command{
		Use:   "clear <job-id>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  clearCheckpoint,
	}

	for _, c := range []*cobra.Command{listCmd, inspectCmd, clearCmd} {
		c.Flags().StringVar(&outputDir, "output", "output", "Output directory holding the checkpoint database")
	}

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)
	checkpointCmd.AddCommand(clearCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openCheckpointStore opens the durable checkpoint database under dir.
func openCheckpointStore(dir string) (*checkpoint.SQLiteKV, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return checkpoint.NewSQLiteKV(filepath.Join(dir, "checkpoints.db"))
}

// loadEnvFile loads KEY=VALUE pairs from a file into the environment.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return nil
}
