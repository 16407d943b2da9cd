// Package ledger is the single source of truth for issue assignment state.
//
// The ledger owns every Record's status, cursor, assigned NGO and history.
// Nothing else mutates a Record.
//
// # Concurrency discipline
//
// Every mutation is ONE atomic compare-and-swap keyed on the expected prior
// state of the record (status + cursor + open offer id). There are no held
// locks between calls and no retries: a caller whose swap loses gets a
// Conflict error and must treat it as "someone else already acted".
//
// This is the generalisation of the classic
//
//	UPDATE assignments SET status = 'assigned' WHERE issue_id = ? AND status = 'offered'
//
// pattern, and every backend (Memory, store.Store, mongostore.Store) expresses
// it in its own native primitive. The ledgertest package holds the conformance
// suite all backends must pass.
//
// # Invariants
//
//   - AssignedNGO is written at most once and never changes afterwards.
//   - Cursor never decreases and never exceeds len(Candidates).
//   - Status reaches Exhausted only after every candidate was offered and expired.
//   - History gains exactly one entry per transition and is never rewritten.
package ledger
