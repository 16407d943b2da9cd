package harness

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// Snapshot is the golden-file view of a scenario run. It omits wall-clock
// noise that is not driven by the manual clock.
type Snapshot struct {
	Scenario      string                 `json:"scenario"`
	Status        string                 `json:"status"`
	Cursor        int                    `json:"cursor"`
	AssignedNGO   string                 `json:"assigned_ngo,omitempty"`
	Steps         []TraceEvent           `json:"steps"`
	History       []SnapshotHistory      `json:"history"`
	Notifications []SnapshotNotification `json:"notifications"`
}

// SnapshotHistory is one history line with its timestamp in RFC 3339.
type SnapshotHistory struct {
	Seq     int    `json:"seq"`
	NGOID   string `json:"ngo_id"`
	Outcome string `json:"outcome"`
	At      string `json:"at"`
}

// SnapshotNotification is one delivered notification.
type SnapshotNotification struct {
	Event   string `json:"event"`
	NGOID   string `json:"ngo_id,omitempty"`
	OfferID string `json:"offer_id,omitempty"`
}

// NewSnapshot builds the golden view of result.
func NewSnapshot(name string, result *Result) Snapshot {
	s := Snapshot{
		Scenario:      name,
		Status:        string(result.Final.Status),
		Cursor:        result.Final.Cursor,
		AssignedNGO:   result.Final.AssignedNGO,
		Steps:         result.Trace,
		History:       make([]SnapshotHistory, len(result.Final.History)),
		Notifications: make([]SnapshotNotification, len(result.Notifications)),
	}
	for i, h := range result.Final.History {
		s.History[i] = SnapshotHistory{
			Seq:     h.Seq,
			NGOID:   h.NGOID,
			Outcome: string(h.Outcome),
			At:      h.At.UTC().Format(time.RFC3339),
		}
	}
	for i, n := range result.Notifications {
		s.Notifications[i] = SnapshotNotification{
			Event:   string(n.Event),
			NGOID:   n.NGOID,
			OfferID: n.OfferID,
		}
	}
	return s
}

// Marshal renders the snapshot as indented JSON without a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
