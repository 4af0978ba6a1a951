package submissions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ventpipe/internal/capability"
)

type execCall struct {
	sql  string
	args []any
}

type fakeConn struct {
	calls    []execCall
	affected []int
	row      pgx.Row
}

func (f *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	n := 1
	if len(f.affected) > 0 {
		n, f.affected = f.affected[0], f.affected[1:]
	}
	if n == 0 {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

type fakeRow struct {
	value *string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(**string)) = r.value
	return nil
}

func TestPostgresMarkReadyPost(t *testing.T) {
	conn := &fakeConn{}
	sink := &PostgresSink{conn: conn, retentionDays: 21}

	err := sink.MarkReady(context.Background(), "p1", Annotations{
		Kind: capability.KindPost, Transcript: "t", Summary: "s", TLDR: "x", Language: "en",
		AudioDurationSec: 4.6, AnonAudioKey: "anon/k",
	})
	if err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	call := conn.calls[0]
	if !strings.Contains(call.sql, "UPDATE posts") {
		t.Fatalf("expected posts update, got %s", call.sql)
	}
	if call.args[6] != 5 || call.args[7] != 21 {
		t.Fatalf("unexpected duration/retention args %v", call.args)
	}
}

func TestPostgresMarkReadyComment(t *testing.T) {
	conn := &fakeConn{}
	sink := &PostgresSink{conn: conn}

	if err := sink.MarkReady(context.Background(), "c1", Annotations{Kind: capability.KindComment, Sentiment: capability.SentimentInFavor}); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if conn.calls[0].args[1] != "IN_FAVOR" {
		t.Fatalf("unexpected sentiment arg %v", conn.calls[0].args[1])
	}

	if err := sink.MarkReady(context.Background(), "c2", Annotations{Kind: capability.KindComment, Sentiment: capability.SentimentNeutral}); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if conn.calls[1].args[1] != nil {
		t.Fatalf("neutral should be stored as NULL, got %v", conn.calls[1].args[1])
	}
}

func TestPostgresMarkReadyMissingRow(t *testing.T) {
	conn := &fakeConn{affected: []int{0}}
	sink := &PostgresSink{conn: conn}
	err := sink.MarkReady(context.Background(), "p1", Annotations{Kind: capability.KindPost})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresMarkFailedFallsBackToComments(t *testing.T) {
	conn := &fakeConn{affected: []int{0, 1}}
	sink := &PostgresSink{conn: conn}
	if err := sink.MarkFailed(context.Background(), "c1", "validation", "bad"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if len(conn.calls) != 2 || !strings.Contains(conn.calls[1].sql, "UPDATE comments") {
		t.Fatalf("expected comment update after post miss, got %+v", conn.calls)
	}
}

func TestPostgresParentSummary(t *testing.T) {
	summary := "Parks."
	sink := &PostgresSink{conn: &fakeConn{row: fakeRow{value: &summary}}}
	got, err := sink.ParentSummary(context.Background(), "p1")
	if err != nil || got != "Parks." {
		t.Fatalf("unexpected summary %q %v", got, err)
	}

	sink = &PostgresSink{conn: &fakeConn{row: fakeRow{err: pgx.ErrNoRows}}}
	if _, err := sink.ParentSummary(context.Background(), "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresWithdrawalOverridesReadyRow(t *testing.T) {
	conn := &fakeConn{}
	sink := &PostgresSink{conn: conn}
	if err := sink.MarkFailed(context.Background(), "p1", FailureWithdrawn, "submission withdrawn"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if strings.Contains(conn.calls[0].sql, "<> 'ready'") {
		t.Fatalf("withdrawal must not keep ready rows: %s", conn.calls[0].sql)
	}

	conn = &fakeConn{}
	sink = &PostgresSink{conn: conn}
	if err := sink.MarkFailed(context.Background(), "p1", "dead", "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if !strings.Contains(conn.calls[0].sql, "<> 'ready'") {
		t.Fatalf("ordinary failures must keep ready rows: %s", conn.calls[0].sql)
	}
}
