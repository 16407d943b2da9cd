// Package store provides the SQL-backed assignment ledger.
//
// SQLite (github.com/mattn/go-sqlite3) is the default; a DSN starting with
// postgres:// or postgresql:// selects PostgreSQL (github.com/lib/pq). Both
// dialects share schema.sql.
//
// # Compare-and-swap
//
// Every mutation runs in one transaction:
//
//  1. read the record (and its history) inside the transaction
//  2. validate the ledger.Transition against it
//  3. UPDATE assignments ... WHERE issue_id = ? AND status = ? AND cursor_pos = ? AND offer_id = ?
//  4. if RowsAffected() == 0, re-read and classify the miss; otherwise
//     append the history row and commit
//
// Step 3 is the atomic step. Under PostgreSQL's row locking a concurrent
// writer re-evaluates the WHERE clause against the committed row, so exactly
// one of two racing accepts matches. Under SQLite the pool is limited to a
// single connection and transactions are serialized outright.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: History rows must reference an assignment
//
// Reads that run inside a transaction MUST use the transaction handle; with a
// single pooled connection a second handle would wait forever.
package store
