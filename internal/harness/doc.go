// Package harness runs assignment scenarios as executable contract tests.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: escalation_to_second
//	description: "A lets the offer lapse, B is offered next"
//	candidates: [ngo-a, ngo-b, ngo-c]
//	offer_window: 48h
//	steps:
//	  - advance: 48h
//	  - accept: ngo-b
//	    expect: won
//	assertions:
//	  status: assigned
//	  cursor: 1
//	  assigned: ngo-b
//	  history: [offered:ngo-a, expired:ngo-a, offered:ngo-b, accepted:ngo-b]
//	  notified: [offered:ngo-a, offered:ngo-b, assigned:ngo-b, rejected:ngo-a]
//
// Steps are one of:
//
//   - accept: <ngo>        (expect: won | lost)
//   - race: [<ngo>, ...]   concurrent accepts (winners: <n>)
//   - advance: <duration>  moves the clock, firing due deadlines
//   - complete: true       (expect: ok | rejected)
//
// Files are decoded strictly (unknown keys are errors) and then checked
// against the CUE schema in schema.cue.
//
// # Deterministic Testing
//
// Every scenario runs against a fresh in-memory ledger with:
//   - A manual clock starting at Epoch, moved only by advance steps
//   - Sequential offer ids (offer-1, offer-2, ...)
//   - A recording notification sink
//
// so the same scenario always produces the same trace, which RunWithGolden
// compares against testdata/golden/<name>.golden.
package harness
