package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is an in-process Ledger.
//
// Each record lives behind an atomic.Pointer to an immutable snapshot. A
// mutation builds the next snapshot from the one it loaded and publishes it
// with a single CompareAndSwap. A lost swap means another transition landed
// first, and since every transition changes the record's CASKey the loser
// gets CONFLICT (or EXHAUSTED / INVALID_STATE) without retrying.
//
// Snapshots are never modified after publication, so readers need no lock.
type Memory struct {
	opts    Options
	records sync.Map // issue id -> *memoryEntry
}

type memoryEntry struct {
	state atomic.Pointer[Record]
}

// Ensure Memory implements Ledger.
var _ Ledger = (*Memory)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory(opts ...Option) *Memory {
	return &Memory{opts: ApplyOptions(opts...)}
}

// Create implements Ledger.
func (m *Memory) Create(ctx context.Context, issueID string, candidates []string) (Record, error) {
	issueID = NormalizeID(issueID)
	prepared, err := PrepareCandidates(issueID, candidates)
	if err != nil {
		return Record{}, err
	}

	now := m.opts.Clock.Now()
	rec := &Record{
		IssueID:    issueID,
		Candidates: prepared,
		Status:     StatusUnassigned,
		CreatedAt:  now,
		UpdatedAt:  now,
		History:    []HistoryEntry{},
	}

	e := &memoryEntry{}
	e.state.Store(rec)
	if _, loaded := m.records.LoadOrStore(issueID, e); loaded {
		return Record{}, AlreadyExists(OpCreate, issueID)
	}
	return rec.Clone(), nil
}

// Get implements Ledger.
func (m *Memory) Get(ctx context.Context, issueID string) (Record, error) {
	e, ok := m.entry(issueID)
	if !ok {
		return Record{}, NotFound(OpGet, NormalizeID(issueID))
	}
	return e.state.Load().Clone(), nil
}

// OpenOffer implements Ledger.
func (m *Memory) OpenOffer(ctx context.Context, issueID, ngoID string, deadline time.Time) (OfferToken, error) {
	next, err := m.swap(OpenOfferTransition(issueID, ngoID, m.opts.IDs.Generate(), deadline))
	if err != nil {
		return OfferToken{}, err
	}
	tok, _ := next.CurrentOffer()
	return tok, nil
}

// TryAccept implements Ledger.
func (m *Memory) TryAccept(ctx context.Context, tok OfferToken, completeBy time.Time) (bool, error) {
	if _, err := m.swap(AcceptTransition(tok, completeBy)); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireOffer implements Ledger.
func (m *Memory) ExpireOffer(ctx context.Context, tok OfferToken) (Record, error) {
	next, err := m.swap(ExpireTransition(tok))
	if err != nil {
		return Record{}, err
	}
	return next.Clone(), nil
}

// Complete implements Ledger.
func (m *Memory) Complete(ctx context.Context, issueID string) error {
	_, err := m.swap(CompleteTransition(issueID))
	return err
}

// ListActive implements Ledger.
func (m *Memory) ListActive(ctx context.Context) ([]Record, error) {
	active := []Record{}
	m.records.Range(func(_, v any) bool {
		rec := v.(*memoryEntry).state.Load()
		if !rec.Status.IsTerminal() {
			active = append(active, rec.Clone())
		}
		return true
	})
	sort.Slice(active, func(i, j int) bool {
		return active[i].IssueID < active[j].IssueID
	})
	return active, nil
}

func (m *Memory) entry(issueID string) (*memoryEntry, bool) {
	v, ok := m.records.Load(NormalizeID(issueID))
	if !ok {
		return nil, false
	}
	return v.(*memoryEntry), true
}

// swap performs t with exactly one CompareAndSwap.
func (m *Memory) swap(t Transition) (*Record, error) {
	e, ok := m.entry(t.IssueID)
	if !ok {
		return nil, NotFound(t.Op, t.IssueID)
	}

	cur := e.state.Load()
	next, _, err := t.Next(*cur, m.opts.Clock.Now())
	if err != nil {
		return nil, err
	}

	if !e.state.CompareAndSwap(cur, &next) {
		return nil, Classify(t.Op, *e.state.Load())
	}
	return &next, nil
}
