package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/civicroute/internal/engine"
	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/notify"
	"github.com/roach88/civicroute/internal/testutil"
)

// Epoch is the manual clock's start time for every scenario.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution environment.
// It runs scenarios with a manual clock and sequential offer ids.
type Harness struct {
	controller *engine.Controller
	clock      *testutil.ManualClock
	recorder   *notify.Recorder
	issueID    string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory ledger for isolation.
//
// Execution flow:
// 1. Build ledger, controller and recorder on a manual clock
// 2. Create the assignment (offers the first candidate)
// 3. Execute steps, checking each expect clause
// 4. Evaluate assertions against the final record and notifications
//
// A returned error means the scenario could not be executed at all;
// expectation failures are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	offerWindow, err := scenario.offerWindow()
	if err != nil {
		return nil, err
	}
	completionWindow, err := scenario.completionWindow()
	if err != nil {
		return nil, err
	}

	clk := testutil.NewManualClock(Epoch)
	mem := ledger.NewMemory(
		ledger.WithClock(clk),
		ledger.WithIDGenerator(testutil.NewSequentialIDs("offer")),
	)
	rec := &notify.Recorder{}

	opts := []engine.Option{
		engine.WithClock(clk),
		engine.WithCompletionWindow(completionWindow),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if offerWindow > 0 {
		opts = append(opts, engine.WithOfferWindow(offerWindow))
	}
	ctrl := engine.New(mem, rec, opts...)
	defer ctrl.Close()

	h := &Harness{
		controller: ctrl,
		clock:      clk,
		recorder:   rec,
		issueID:    scenario.issueID(),
	}

	ctx := context.Background()
	if _, err := ctrl.CreateAssignment(ctx, h.issueID, scenario.Candidates); err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute steps[%d]: %w", i, err)
		}
	}

	final, err := mem.Get(ctx, h.issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Final = final
	result.Notifications = rec.All()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	ev := TraceEvent{Step: i + 1, Action: step.Kind()}

	switch ev.Action {
	case StepAccept:
		ev.Arg = step.Accept
		won, err := h.controller.AcceptOffer(ctx, h.issueID, step.Accept)
		if err != nil {
			return err
		}
		ev.Outcome = OutcomeLost
		if won {
			ev.Outcome = OutcomeWon
		}
		if step.Expect != "" && step.Expect != ev.Outcome {
			result.AddError(fmt.Sprintf("steps[%d]: accept %s: expected %s, got %s", i, step.Accept, step.Expect, ev.Outcome))
		}

	case StepRace:
		ev.Arg = strings.Join(step.Race, ",")
		winners, err := h.race(ctx, step.Race)
		if err != nil {
			return err
		}
		ev.Outcome = fmt.Sprintf("winners=%d", winners)
		if step.Winners != nil && *step.Winners != winners {
			result.AddError(fmt.Sprintf("steps[%d]: race: expected %d winners, got %d", i, *step.Winners, winners))
		}

	case StepAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		ev.Arg = step.Advance
		h.clock.Advance(d)

	case StepComplete:
		ok, err := h.controller.MarkComplete(ctx, h.issueID)
		switch {
		case ok:
			ev.Outcome = OutcomeOK
		case ledger.IsInvalidState(err):
			ev.Outcome = OutcomeRejected
			ev.Error = string(ledger.CodeOf(err))
		default:
			return err
		}
		if step.Expect != "" && step.Expect != ev.Outcome {
			result.AddError(fmt.Sprintf("steps[%d]: complete: expected %s, got %s", i, step.Expect, ev.Outcome))
		}

	default:
		return fmt.Errorf("empty step")
	}

	result.AddTrace(ev)
	return nil
}

// race submits one accept per NGO concurrently and returns how many won.
func (h *Harness) race(ctx context.Context, ngos []string) (int, error) {
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		won     = make([]bool, len(ngos))
		errs    = make([]error, len(ngos))
		winners int
	)
	for i, ngo := range ngos {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won[i], errs[i] = h.controller.AcceptOffer(ctx, h.issueID, ngo)
		}()
	}
	close(start)
	wg.Wait()

	for i := range ngos {
		if errs[i] != nil {
			return 0, errs[i]
		}
		if won[i] {
			winners++
		}
	}
	return winners, nil
}
