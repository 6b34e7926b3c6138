package session

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/oscillo/scopewatch/model"
)

// SaveRecording writes rec to path as JSON. Recordings persist alongside
// projects so a session can be replayed later without the target
// attached.
func SaveRecording(path string, rec *model.SessionRecording) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal recording: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write recording %s: %w", path, err)
	}
	return nil
}

// LoadRecording reads a SessionRecording previously written by
// SaveRecording.
func LoadRecording(path string) (*model.SessionRecording, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read recording %s: %w", path, err)
	}
	var rec model.SessionRecording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: unmarshal recording %s: %w", path, err)
	}
	return &rec, nil
}
