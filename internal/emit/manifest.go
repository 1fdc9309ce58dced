package emit

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Manifest summarizes one run.
type Manifest struct {
	RunID      string         `json:"run_id"`
	Command    string         `json:"command"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Seconds    float64        `json:"duration_seconds"`
	Vintages   []int          `json:"vintages,omitempty"`
	Counts     map[string]int `json:"counts"`
	Failures   []string       `json:"fetch_failures,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Outputs    []string       `json:"outputs"`
	Error      string         `json:"error,omitempty"`
}

// NewManifest starts a manifest with a fresh run id.
func NewManifest(command string) *Manifest {
	return &Manifest{
		RunID:     uuid.NewString(),
		Command:   command,
		StartedAt: time.Now().UTC(),
		Counts:    make(map[string]int),
	}
}

// Finish stamps the end time.
func (m *Manifest) Finish() {
	m.FinishedAt = time.Now().UTC()
	m.Seconds = m.FinishedAt.Sub(m.StartedAt).Seconds()
}

// WriteManifest writes m as indented JSON.
func WriteManifest(path string, m *Manifest) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(m), "emit: encode manifest")
	})
}
