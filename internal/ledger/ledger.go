package ledger

import (
	"context"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/civicroute/internal/clock"
)

// Operation names used in errors and logs.
const (
	OpCreate     = "create"
	OpGet        = "get"
	OpOpenOffer  = "open_offer"
	OpTryAccept  = "try_accept"
	OpExpire     = "expire_offer"
	OpComplete   = "complete"
	OpListActive = "list_active"
)

// Ledger is the authority for reading and writing assignment Records.
//
// Every mutating method is a single atomic step that either applies fully or
// not at all, and returns immediately with a definitive outcome. Backends
// never block on each other longer than one atomic step and never retry.
type Ledger interface {
	// Create registers a new record in StatusUnassigned.
	// Fails with ALREADY_EXISTS for a known issue id.
	Create(ctx context.Context, issueID string, candidates []string) (Record, error)

	// Get returns a snapshot of the record. Fails with NOT_FOUND.
	Get(ctx context.Context, issueID string) (Record, error)

	// OpenOffer opens an offer to candidates[cursor]. Requires status
	// unassigned or offered with no offer currently open, and ngoID equal to
	// candidates[cursor].
	OpenOffer(ctx context.Context, issueID, ngoID string, deadline time.Time) (OfferToken, error)

	// TryAccept assigns the offer to the token's NGO if, and only if, the
	// record is still offered with the token's cursor and offer id. Exactly
	// one concurrent caller can observe true. completeBy may be zero.
	TryAccept(ctx context.Context, tok OfferToken, completeBy time.Time) (bool, error)

	// ExpireOffer withdraws the token's offer and advances the cursor. The
	// returned record is either pending a new offer or exhausted.
	ExpireOffer(ctx context.Context, tok OfferToken) (Record, error)

	// Complete moves an assigned record to completed. Fails with
	// INVALID_STATE for any other status.
	Complete(ctx context.Context, issueID string) error

	// ListActive returns every record that is not in a terminal status,
	// ordered by issue id.
	ListActive(ctx context.Context) ([]Record, error)
}

// IDGenerator generates offer ids.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs (tests).
type IDGenerator interface {
	Generate() string
}

// Options holds configuration shared by all Ledger backends.
type Options struct {
	Clock clock.Clock
	IDs   IDGenerator
}

// Option is a function that configures [Options].
type Option func(*Options)

// WithClock sets the time source used for history timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithIDGenerator sets the offer id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Options) {
		o.IDs = g
	}
}

// ApplyOptions resolves opts on top of the defaults (wall clock, UUIDv7 ids).
func ApplyOptions(opts ...Option) Options {
	o := Options{
		Clock: clock.Wall{},
		IDs:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NormalizeID returns the NFC form of an identifier so that visually
// identical ids supplied by different collaborators compare equal.
func NormalizeID(id string) string {
	return norm.NFC.String(id)
}

// PrepareCandidates normalises and validates a candidate list for Create.
// The returned slice is a fresh copy.
func PrepareCandidates(issueID string, candidates []string) ([]string, error) {
	if issueID == "" {
		return nil, InvalidArgument(OpCreate, "", "issue id is required")
	}
	if len(candidates) == 0 {
		return nil, InvalidArgument(OpCreate, issueID, "candidate list is empty")
	}

	out := make([]string, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for i, c := range candidates {
		n := NormalizeID(c)
		if n == "" {
			return nil, InvalidArgument(OpCreate, issueID, "candidate %d is empty", i)
		}
		if seen[n] {
			return nil, InvalidArgument(OpCreate, issueID, "candidate %q listed twice", n)
		}
		seen[n] = true
		out[i] = n
	}
	return out, nil
}

// NextCursor computes the cursor and status after the offer at cursor expires.
func NextCursor(cursor, candidates int) (int, Status) {
	next := cursor + 1
	if next >= candidates {
		return candidates, StatusExhausted
	}
	return next, StatusOffered
}
