package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StateDir is the directory under the output root that holds run state. The
// archive packager skips it.
const StateDir = ".autocapture"

const reportFile = "last-run.json"

// Report is what a run leaves behind for a later retry.
type Report struct {
	Summary
	// Options records the settings the run used, so a retry can reuse them.
	Options map[string]any `json:"options,omitempty"`
}

// ReportPath is where the last run report for root lives.
func ReportPath(root string) string {
	return filepath.Join(root, StateDir, reportFile)
}

// SaveReport writes the report atomically under root.
func SaveReport(root string, r Report) (string, error) {
	path := ReportPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run report: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), reportFile+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return path, nil
}

// ErrNoReport means no run has been recorded under the output root yet.
var ErrNoReport = errors.New("no previous run found")

// LoadReport reads the last run report under root.
func LoadReport(root string) (Report, error) {
	var r Report
	data, err := os.ReadFile(ReportPath(root))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, ErrNoReport
		}
		return r, fmt.Errorf("error reading run report: %w", err)
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("error parsing run report: %w", err)
	}
	return r, nil
}
