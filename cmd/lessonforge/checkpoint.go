package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lamim/lessonforge/internal/checkpoint"
)

// listCheckpoints prints a summary line for every stored checkpoint.
func listCheckpoints(cmd *cobra.Command, args []string) error {
	kv, err := openCheckpointStore(outputDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	defer kv.Close()

	keys, err := kv.Keys(checkpoint.KeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(keys) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	store := checkpoint.NewStore(kv, slog.Default())

	fmt.Printf("%-40s %-10s %-10s %s\n", "JOB", "COMPLETED", "FAILED", "SAVED")
	fmt.Println(strings.Repeat("-", 80))
	for _, key := range keys {
		jobID := strings.TrimPrefix(key, checkpoint.KeyPrefix)
		cp, ok := store.Load(jobID)
		if !ok {
			continue
		}
		fmt.Printf("%-40s %-10d %-10d %s\n",
			jobID,
			len(cp.CompletedPlanUnitIDs),
			len(cp.FailedPlanUnitIDs),
			checkpoint.DescribeAge(cp.SavedAt))
	}
	return nil
}

// inspectCheckpoint prints the full recovery record for one job.
func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	kv, err := openCheckpointStore(outputDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	defer kv.Close()

	store := checkpoint.NewStore(kv, slog.Default())
	cp, ok := store.Load(jobID)
	if !ok {
		return fmt.Errorf("no checkpoint found for job: %s", jobID)
	}

	fmt.Printf("Checkpoint for job: %s\n", jobID)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Saved at:     %s (%s)\n", cp.SavedAt.Format("2006-01-02 15:04:05"), checkpoint.DescribeAge(cp.SavedAt))
	fmt.Printf("Last index:   %d\n", cp.LastIndex)
	fmt.Printf("Completed:    %d unit(s)\n", len(cp.CompletedPlanUnitIDs))
	for _, id := range cp.CompletedPlanUnitIDs {
		fmt.Printf("  - %s\n", id)
	}
	fmt.Printf("Failed:       %d unit(s)\n", len(cp.FailedPlanUnitIDs))
	for _, id := range cp.FailedPlanUnitIDs {
		attempts := cp.RetryCounts[id]
		fmt.Printf("  - %s (%d attempts)\n", id, attempts)
	}
	return nil
}

// clearCheckpoint deletes the recovery record for one job.
func clearCheckpoint(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	kv, err := openCheckpointStore(outputDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	defer kv.Close()

	store := checkpoint.NewStore(kv, slog.Default())
	if !store.Has(jobID) {
		return fmt.Errorf("no checkpoint found for job: %s", jobID)
	}
	store.Clear(jobID)
	fmt.Printf("Cleared checkpoint for job: %s\n", jobID)
	return nil
}
