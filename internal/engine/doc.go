// Package engine implements the escalation controller.
//
// The controller drives each issue through the offer cycle:
//
//	create -> offer(candidates[0]) -> accept            -> assigned -> completed
//	                               \-> deadline passes -> offer(next) ...
//	                                                    \-> exhausted
//
// ARCHITECTURE:
//
// The controller owns no assignment state. Every decision re-reads the
// ledger, and every change is a ledger compare-and-swap, so the controller
// can run its HTTP handlers and deadline handlers concurrently without any
// lock of its own. Two things can race on one offer: an accept and the
// deadline. The ledger admits exactly one of them.
//
// Deadline timers are advisory. A timer that fires after its offer was
// accepted, or after the cursor moved on, finds a record that no longer
// matches and does nothing.
//
// Notifications are handed to a notify.Sink after the ledger change commits.
// Delivery is best effort with a single attempt.
//
// ERROR HANDLING:
//
// CONFLICT and EXHAUSTED from the ledger are normal outcomes of races and are
// logged at debug. NOT_FOUND and INVALID_STATE are returned to the caller.
// Anything else is an infrastructure error: returned from boundary
// operations, logged at error level from deadline handlers.
package engine
