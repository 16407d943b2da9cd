package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/notify"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Field    string // Assertion field for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s -> %s\n", ev.Step, ev.Action, ev.Arg, ev.Outcome)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks a against result and returns one message per
// failed assertion.
func EvaluateAssertions(result *Result, a Assertions) []string {
	var failures []string
	fail := func(field, expected, actual string) {
		err := &AssertionError{Field: field, Expected: expected, Actual: actual, Trace: result.Trace}
		failures = append(failures, err.Error())
	}

	final := result.Final
	if a.Status != "" && a.Status != string(final.Status) {
		fail("status", a.Status, string(final.Status))
	}
	if a.Cursor != nil && *a.Cursor != final.Cursor {
		fail("cursor", fmt.Sprint(*a.Cursor), fmt.Sprint(final.Cursor))
	}
	if a.Assigned != nil && *a.Assigned != final.AssignedNGO {
		fail("assigned", quote(*a.Assigned), quote(final.AssignedNGO))
	}
	if a.History != nil {
		if got := HistoryLabels(final.History); !slices.Equal(a.History, got) {
			fail("history", list(a.History), list(got))
		}
	}
	if a.Notified != nil {
		if got := NotificationLabels(result.Notifications); !slices.Equal(a.Notified, got) {
			fail("notified", list(a.Notified), list(got))
		}
	}
	return failures
}

// HistoryLabels renders history as "<outcome>:<ngo>".
func HistoryLabels(h []ledger.HistoryEntry) []string {
	out := make([]string, len(h))
	for i, e := range h {
		out[i] = string(e.Outcome) + ":" + e.NGOID
	}
	return out
}

// NotificationLabels renders notifications as "<event>:<ngo>", or "<event>"
// when no NGO is addressed.
func NotificationLabels(ns []notify.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = string(n.Event)
		if n.NGOID != "" {
			out[i] += ":" + n.NGOID
		}
	}
	return out
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}

func list(s []string) string {
	return "[" + strings.Join(s, ", ") + "]"
}
