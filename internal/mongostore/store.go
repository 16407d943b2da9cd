// Package mongostore provides a MongoDB-backed assignment ledger.
//
// One document per issue, keyed by issue id. Each mutation is a single
// FindOneAndUpdate whose filter carries the compare-and-swap key (status,
// cursor, offer id) read just before; MongoDB applies single-document
// updates atomically, so of two racing writers only one filter matches.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/civicroute/internal/ledger"
)

// CollectionName is the collection holding assignment documents.
const CollectionName = "assignments"

// Store is a ledger.Ledger persisted in MongoDB.
type Store struct {
	c    *mongo.Collection
	opts ledger.Options
}

// Ensure Store implements ledger.Ledger.
var _ ledger.Ledger = (*Store)(nil)

type historyDoc struct {
	Seq     int       `bson:"seq"`
	NGOID   string    `bson:"ngo_id"`
	Outcome string    `bson:"outcome"`
	At      time.Time `bson:"at"`
}

type assignmentDoc struct {
	IssueID     string       `bson:"_id"`
	Candidates  []string     `bson:"candidates"`
	Cursor      int          `bson:"cursor"`
	Status      string       `bson:"status"`
	AssignedNGO string       `bson:"assigned_ngo"`
	OfferID     string       `bson:"offer_id"`
	DeadlineAt  time.Time    `bson:"deadline_at"`
	CreatedAt   time.Time    `bson:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at"`
	History     []historyDoc `bson:"history"`
}

// New creates a Store over db.
func New(db *mongo.Database, opts ...ledger.Option) *Store {
	return &Store{
		c:    db.Collection(CollectionName),
		opts: ledger.ApplyOptions(opts...),
	}
}

// Connect dials uri, verifies the connection and returns a Store over
// database along with the client so the caller can disconnect it.
func Connect(ctx context.Context, uri, database string, opts ...ledger.Option) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client.Database(database), opts...)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo indexes: %w", err)
	}
	return s, client, nil
}

// EnsureIndexes creates necessary indexes for efficient querying.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// ListActive after a restart
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("idx_assignments_status"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create implements ledger.Ledger.
func (s *Store) Create(ctx context.Context, issueID string, candidates []string) (ledger.Record, error) {
	issueID = ledger.NormalizeID(issueID)
	prepared, err := ledger.PrepareCandidates(issueID, candidates)
	if err != nil {
		return ledger.Record{}, err
	}

	now := s.now()
	rec := ledger.Record{
		IssueID:    issueID,
		Candidates: prepared,
		Status:     ledger.StatusUnassigned,
		CreatedAt:  now,
		UpdatedAt:  now,
		History:    []ledger.HistoryEntry{},
	}

	if _, err := s.c.InsertOne(ctx, toDoc(rec)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ledger.Record{}, ledger.AlreadyExists(ledger.OpCreate, issueID)
		}
		return ledger.Record{}, fmt.Errorf("create: %w", err)
	}
	return rec, nil
}

// Get implements ledger.Ledger.
func (s *Store) Get(ctx context.Context, issueID string) (ledger.Record, error) {
	return s.find(ctx, ledger.OpGet, ledger.NormalizeID(issueID))
}

// OpenOffer implements ledger.Ledger.
func (s *Store) OpenOffer(ctx context.Context, issueID, ngoID string, deadline time.Time) (ledger.OfferToken, error) {
	next, err := s.apply(ctx, ledger.OpenOfferTransition(issueID, ngoID, s.opts.IDs.Generate(), deadline))
	if err != nil {
		return ledger.OfferToken{}, err
	}
	tok, _ := next.CurrentOffer()
	return tok, nil
}

// TryAccept implements ledger.Ledger.
func (s *Store) TryAccept(ctx context.Context, tok ledger.OfferToken, completeBy time.Time) (bool, error) {
	if _, err := s.apply(ctx, ledger.AcceptTransition(tok, completeBy)); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireOffer implements ledger.Ledger.
func (s *Store) ExpireOffer(ctx context.Context, tok ledger.OfferToken) (ledger.Record, error) {
	return s.apply(ctx, ledger.ExpireTransition(tok))
}

// Complete implements ledger.Ledger.
func (s *Store) Complete(ctx context.Context, issueID string) error {
	_, err := s.apply(ctx, ledger.CompleteTransition(issueID))
	return err
}

// ListActive implements ledger.Ledger.
func (s *Store) ListActive(ctx context.Context) ([]ledger.Record, error) {
	filter := bson.M{"status": bson.M{"$nin": bson.A{
		string(ledger.StatusCompleted),
		string(ledger.StatusExhausted),
	}}}
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ledger.OpListActive, err)
	}
	defer cur.Close(ctx)

	records := []ledger.Record{}
	for cur.Next(ctx) {
		var doc assignmentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", ledger.OpListActive, err)
		}
		records = append(records, fromDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", ledger.OpListActive, err)
	}
	return records, nil
}

// apply publishes t with one FindOneAndUpdate filtered on the CAS key of the
// record it was validated against.
func (s *Store) apply(ctx context.Context, t ledger.Transition) (ledger.Record, error) {
	cur, err := s.find(ctx, t.Op, t.IssueID)
	if err != nil {
		return ledger.Record{}, err
	}

	next, entry, err := t.Next(cur, s.now())
	if err != nil {
		return ledger.Record{}, err
	}

	key := cur.Key()
	filter := bson.M{
		"_id":      t.IssueID,
		"status":   string(key.Status),
		"cursor":   key.Cursor,
		"offer_id": key.OfferID,
	}
	update := bson.M{
		"$set": bson.M{
			"cursor":       next.Cursor,
			"status":       string(next.Status),
			"assigned_ngo": next.AssignedNGO,
			"offer_id":     next.OfferID,
			"deadline_at":  next.DeadlineAt,
			"updated_at":   next.UpdatedAt,
		},
		"$push": bson.M{"history": toHistoryDoc(entry)},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc assignmentDoc
	err = s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		latest, err := s.find(ctx, t.Op, t.IssueID)
		if err != nil {
			return ledger.Record{}, err
		}
		return ledger.Record{}, ledger.Classify(t.Op, latest)
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%s: %w", t.Op, err)
	}
	return fromDoc(doc), nil
}

func (s *Store) find(ctx context.Context, op, issueID string) (ledger.Record, error) {
	var doc assignmentDoc
	err := s.c.FindOne(ctx, bson.M{"_id": issueID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.Record{}, ledger.NotFound(op, issueID)
	}
	if err != nil {
		return ledger.Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return fromDoc(doc), nil
}

// now truncates to the millisecond precision of BSON dates.
func (s *Store) now() time.Time {
	return s.opts.Clock.Now().UTC().Truncate(time.Millisecond)
}

func toDoc(r ledger.Record) assignmentDoc {
	doc := assignmentDoc{
		IssueID:     r.IssueID,
		Candidates:  r.Candidates,
		Cursor:      r.Cursor,
		Status:      string(r.Status),
		AssignedNGO: r.AssignedNGO,
		OfferID:     r.OfferID,
		DeadlineAt:  r.DeadlineAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		History:     make([]historyDoc, len(r.History)),
	}
	for i, h := range r.History {
		doc.History[i] = toHistoryDoc(h)
	}
	return doc
}

func toHistoryDoc(h ledger.HistoryEntry) historyDoc {
	return historyDoc{Seq: h.Seq, NGOID: h.NGOID, Outcome: string(h.Outcome), At: h.At}
}

func fromDoc(doc assignmentDoc) ledger.Record {
	rec := ledger.Record{
		IssueID:     doc.IssueID,
		Candidates:  doc.Candidates,
		Cursor:      doc.Cursor,
		Status:      ledger.Status(doc.Status),
		AssignedNGO: doc.AssignedNGO,
		OfferID:     doc.OfferID,
		DeadlineAt:  utcOrZero(doc.DeadlineAt),
		CreatedAt:   utcOrZero(doc.CreatedAt),
		UpdatedAt:   utcOrZero(doc.UpdatedAt),
		History:     make([]ledger.HistoryEntry, len(doc.History)),
	}
	for i, h := range doc.History {
		rec.History[i] = ledger.HistoryEntry{
			Seq:     h.Seq,
			NGOID:   h.NGOID,
			Outcome: ledger.Outcome(h.Outcome),
			At:      utcOrZero(h.At),
		}
	}
	return rec
}

func utcOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
