package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/civicroute/internal/ledger"
	"github.com/roach88/civicroute/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	IssueID  string // optional; without it the active summary is shown
}

// IssueStatus is the status output for one issue.
type IssueStatus struct {
	Record ledger.Record `json:"record"`
}

// RenderText implements textRenderer.
func (s IssueStatus) RenderText(w io.Writer) {
	r := s.Record
	fmt.Fprintf(w, "Issue:      %s\n", r.IssueID)
	fmt.Fprintf(w, "Status:     %s\n", r.Status)
	fmt.Fprintf(w, "Candidates: %s (cursor %d)\n", strings.Join(r.Candidates, ", "), r.Cursor)
	if r.AssignedNGO != "" {
		fmt.Fprintf(w, "Assigned:   %s\n", r.AssignedNGO)
	}
	if r.OfferID != "" {
		fmt.Fprintf(w, "Offer:      %s\n", r.OfferID)
	}
	if !r.DeadlineAt.IsZero() {
		fmt.Fprintf(w, "Deadline:   %s\n", r.DeadlineAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w, "History:")
	for _, h := range r.History {
		fmt.Fprintf(w, "  %3d  %s  %-9s  %s\n", h.Seq, h.At.Format(time.RFC3339), h.Outcome, h.NGOID)
	}
}

// Summary is the status output without --issue.
type Summary struct {
	Counts map[ledger.Status]int `json:"counts"`
	Active []ledger.Record       `json:"active"`
}

// RenderText implements textRenderer.
func (s Summary) RenderText(w io.Writer) {
	fmt.Fprintln(w, "Assignments by status:")
	for _, st := range []ledger.Status{
		ledger.StatusUnassigned, ledger.StatusOffered, ledger.StatusAssigned,
		ledger.StatusCompleted, ledger.StatusExhausted,
	} {
		fmt.Fprintf(w, "  %-10s %d\n", st, s.Counts[st])
	}
	if len(s.Active) == 0 {
		return
	}
	fmt.Fprintln(w, "Active:")
	for _, r := range s.Active {
		holder := r.AssignedNGO
		if holder == "" {
			holder = r.CurrentCandidate()
		}
		fmt.Fprintf(w, "  %-24s %-9s %s\n", r.IssueID, r.Status, holder)
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect a SQL ledger",
		Long: `Show an issue's assignment record and history, or a summary of all
assignments when --issue is omitted. Reads the SQLite file or Postgres DSN
given by --db.

Examples:
  civicroute status --db ./civicroute.db
  civicroute status --db ./civicroute.db --issue pothole-17
  civicroute status --db postgres://localhost/civicroute --issue pothole-17 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite path or Postgres DSN (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.IssueID, "issue", "", "issue id to show")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	// Opening a SQLite path creates it; refuse rather than report on an
	// empty new file.
	if store.DialectFor(opts.Database) == store.DialectSQLite {
		if _, err := os.Stat(opts.Database); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound,
				fmt.Sprintf("database not found: %s", opts.Database), err)
		}
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	defer st.Close()
	formatter.VerboseLog("Opened %s ledger", st.Dialect())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.IssueID != "" {
		rec, err := st.Get(ctx, opts.IssueID)
		if ledger.IsNotFound(err) {
			return formatter.Fail(ExitFailure, ErrCodeNotFound,
				fmt.Sprintf("issue not found: %s", opts.IssueID), err)
		}
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read issue", err)
		}
		return formatter.Success(IssueStatus{Record: rec})
	}

	counts, err := st.CountByStatus(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to count assignments", err)
	}
	active, err := st.ListActive(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list active assignments", err)
	}
	return formatter.Success(Summary{Counts: counts, Active: active})
}
