// Package writer manages session output directories and file persistence:
// the assembled document, its HTML rendering, the job record, and logs.
package writer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lamim/lessonforge/pkg/models"
)

// SessionManager manages one run's output directory and files.
type SessionManager struct {
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a timestamped session directory under outputDir,
// or reopens an existing one when resumeFromSession names it.
func NewSessionManager(logger *slog.Logger, outputDir, resumeFromSession string) (*SessionManager, error) {
	if outputDir == "" {
		outputDir = "output"
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var sessionDir string
	if resumeFromSession != "" {
		sessionDir = filepath.Join(outputDir, resumeFromSession)
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("session directory not found: %s", sessionDir)
		}
		logger.Info("Resuming from existing session", "path", sessionDir)
	} else {
		timestamp := time.Now().Format("2006-01-02T15-04-05")
		sessionDir = filepath.Join(outputDir, "session_"+timestamp)

		if err := os.MkdirAll(sessionDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}

		logger.Info("Created new session directory", "path", sessionDir)
	}

	return &SessionManager{
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// GetSessionDir returns the session directory path.
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetBookPath returns the full path to the assembled markdown document.
func (sm *SessionManager) GetBookPath() string {
	return filepath.Join(sm.sessionDir, "book.md")
}

// GetHTMLPath returns the full path to the HTML rendering.
func (sm *SessionManager) GetHTMLPath() string {
	return filepath.Join(sm.sessionDir, "book.html")
}

// GetJobPath returns the full path to the persisted job record.
func (sm *SessionManager) GetJobPath() string {
	return filepath.Join(sm.sessionDir, "job.json")
}

// GetLogPath returns the full path to the session log file.
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, "session.log")
}

// GetConfigBackupPath returns the full path to the config backup.
func (sm *SessionManager) GetConfigBackupPath() string {
	return filepath.Join(sm.sessionDir, "config.toml.bak")
}

// BackupConfig copies the config file to the session directory so a run's
// parameters stay inspectable after the fact.
func (sm *SessionManager) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := sm.GetConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Info("Backed up config file", "path", backupPath)
	return nil
}

// SaveJob persists the current job record as indented JSON. It is called
// after every pipeline stage so an interrupted run leaves a usable record.
func (sm *SessionManager) SaveJob(job *models.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := os.WriteFile(sm.GetJobPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}
	return nil
}

// LoadJob restores the persisted job record, if one exists. A missing file
// is not an error; ok reports whether a record was found.
func (sm *SessionManager) LoadJob() (*models.Job, bool, error) {
	data, err := os.ReadFile(sm.GetJobPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read job record: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, false, fmt.Errorf("failed to parse job record: %w", err)
	}
	return &job, true, nil
}

// SaveBook writes the assembled markdown document.
func (sm *SessionManager) SaveBook(doc string) error {
	if err := os.WriteFile(sm.GetBookPath(), []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	sm.logger.Info("Wrote document", "path", sm.GetBookPath())
	return nil
}

// SaveHTML writes the HTML rendering of the document.
func (sm *SessionManager) SaveHTML(html string) error {
	if err := os.WriteFile(sm.GetHTMLPath(), []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write HTML document: %w", err)
	}
	sm.logger.Info("Wrote HTML document", "path", sm.GetHTMLPath())
	return nil
}
