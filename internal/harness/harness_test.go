package harness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestRun_OfferedAfterCreate(t *testing.T) {
	scenario := &Scenario{
		Name:        "created",
		Description: "Create offers the first candidate",
		Candidates:  []string{"ngo-a", "ngo-b"},
		Assertions: Assertions{
			Status:   "offered",
			Cursor:   intPtr(0),
			History:  []string{"offered:ngo-a"},
			Notified: []string{"offered:ngo-a"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Empty(t, result.Trace)
	assert.Equal(t, DefaultIssueID, result.Final.IssueID)
	assert.Equal(t, "offer-1", result.Final.OfferID)
	assert.Equal(t, Epoch.Add(48*time.Hour), result.Final.DeadlineAt, "default offer window")
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "B cannot accept A's offer",
		Candidates:  []string{"ngo-a", "ngo-b"},
		Steps:       []Step{{Accept: "ngo-b", Expect: OutcomeWon}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected won, got lost")
}

func TestRun_AssertionFailuresAreReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong",
		Description: "Every assertion is wrong",
		Candidates:  []string{"ngo-a"},
		Assertions: Assertions{
			Status:   "assigned",
			Cursor:   intPtr(1),
			Assigned: strPtr("ngo-a"),
			History:  []string{},
			Notified: []string{"assigned:ngo-a"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Assertion failed: status")
	assert.Contains(t, result.Errors[3], "Actual: [offered:ngo-a]")
}

func TestRun_RaceHasOneWinner(t *testing.T) {
	scenario := &Scenario{
		Name:        "race",
		Description: "Many accepts from the offeree",
		Candidates:  []string{"ngo-a", "ngo-b"},
		Steps: []Step{{
			Race:    []string{"ngo-a", "ngo-a", "ngo-a", "ngo-a", "ngo-b", "ngo-b"},
			Winners: intPtr(1),
		}},
		Assertions: Assertions{Status: "assigned", Assigned: strPtr("ngo-a")},
	}

	// Repeat to give the scheduler a chance to interleave differently.
	for range 20 {
		result, err := Run(scenario)
		require.NoError(t, err)
		require.True(t, result.Pass, result.Errors)
		assert.Equal(t, "winners=1", result.Trace[0].Outcome)
	}
}

func TestRun_DuplicateCandidatesRejected(t *testing.T) {
	scenario := &Scenario{
		Name:        "dup",
		Description: "Candidates must be distinct",
		Candidates:  []string{"ngo-a", "ngo-a"},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create assignment")
}

func TestRun_BadWindow(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Description: "x", Candidates: []string{"a"}, OfferWindow: "-1h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offer_window")
}

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestAssertGolden_MatchesExistingResult(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/single_candidate_exhausted.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, scenario.Name, result))
}
