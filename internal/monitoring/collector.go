package monitoring

import (
	"sort"
	"time"
)

// Snapshot is the point-in-time health of one run.
type Snapshot struct {
	UnitsTotal    int     `json:"units_total"`
	UnitsFailed   int     `json:"units_failed"`
	Attempts      int     `json:"attempts"`
	FetchFailRate float64 `json:"fetch_fail_rate"`

	Records map[int]int `json:"records,omitempty"`

	JoinRows        int     `json:"join_rows"`
	JoinUnmatched   int     `json:"join_unmatched"`
	JoinEmptyZone   int     `json:"join_empty_zone"`
	JoinFailureRate float64 `json:"join_failure_rate"`

	Zones    int      `json:"zones"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// RecordTotal sums records over all vintages.
func (s *Snapshot) RecordTotal() int {
	n := 0
	for _, c := range s.Records {
		n += c
	}
	return n
}

// Vintages returns the vintages with records, ascending.
func (s *Snapshot) Vintages() []int {
	out := make([]int, 0, len(s.Records))
	for y, c := range s.Records {
		if c > 0 {
			out = append(out, y)
		}
	}
	sort.Ints(out)
	return out
}

// Snapshot returns a copy of the run state observed so far.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snap
	snap.Records = make(map[int]int, len(m.snap.Records))
	for y, n := range m.snap.Records {
		snap.Records[y] = n
	}
	snap.Warnings = append([]string(nil), m.snap.Warnings...)
	if snap.UnitsTotal > 0 {
		snap.FetchFailRate = float64(snap.UnitsFailed) / float64(snap.UnitsTotal)
	}
	snap.CollectedAt = time.Now().UTC()
	return &snap
}
