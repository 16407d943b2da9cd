package mongostore

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/ledger/ledgertest"
)

var dbCounter atomic.Int64

// TestStore_Conformance runs against a real server when MONGO_URI is set.
// Every subtest gets its own database.
func TestStore_Conformance(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	ledgertest.Run(t, func(t *testing.T, opts ...ledger.Option) ledger.Ledger {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		name := fmt.Sprintf("civicroute_test_%d_%d", time.Now().UnixNano(), dbCounter.Add(1))
		s, client, err := Connect(ctx, uri, name, opts...)
		require.NoError(t, err)
		t.Cleanup(func() {
			ctx := context.Background()
			_ = client.Database(name).Drop(ctx)
			_ = client.Disconnect(ctx)
		})
		return s
	})
}

func TestDocRoundTrip(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := ledger.Record{
		IssueID:     "issue-1",
		Candidates:  []string{"A", "B"},
		Cursor:      1,
		Status:      ledger.StatusAssigned,
		AssignedNGO: "B",
		DeadlineAt:  at.Add(time.Hour),
		CreatedAt:   at,
		UpdatedAt:   at,
		History: []ledger.HistoryEntry{
			{Seq: 1, NGOID: "A", Outcome: ledger.OutcomeOffered, At: at},
			{Seq: 2, NGOID: "A", Outcome: ledger.OutcomeExpired, At: at},
		},
	}

	assert.Equal(t, rec, fromDoc(toDoc(rec)))
}

func TestFromDoc_ZeroDeadline(t *testing.T) {
	rec := fromDoc(assignmentDoc{IssueID: "i", DeadlineAt: time.Time{}.Local()})
	assert.True(t, rec.DeadlineAt.IsZero())
	assert.NotNil(t, rec.History)
}
