package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientRoundTrip(t *testing.T) {
	f := newAPIFixture(t, "tok")
	client := NewClient(strings.TrimPrefix(f.server.URL, "http://"), "tok")
	require.Equal(t, f.server.URL, client.BaseURL())
	ctx := context.Background()

	ack, err := client.Submit(ctx, postRequest("p1"))
	require.NoError(t, err)
	require.Equal(t, "pending", ack.Status)

	sub, err := client.Submission(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "post", sub.Kind)

	jobs, err := client.Jobs(ctx, "store")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	detail, err := client.Job(ctx, jobs[0].ID)
	require.NoError(t, err)
	require.Equal(t, "p1", detail.Job.SubmissionID)

	cancelled, err := client.Withdraw(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "cancelled", cancelled.Stage)

	rerun, err := client.Retry(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, rerun.Run)

	counts, err := client.JobStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts["store"])

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Running)
}

func TestClientStatusErrors(t *testing.T) {
	f := newAPIFixture(t, "")
	client := NewClient(f.server.URL, "")
	ctx := context.Background()

	_, err := client.Submission(ctx, "missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)

	_, err = client.Submit(ctx, SubmitRequest{SubmissionID: "c1", Kind: "comment", RawAudioKey: "c1.wav"})
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.Code)
	require.Contains(t, statusErr.Fields, "parentId")
	require.Contains(t, err.Error(), "parentId")
}

func TestClientUnauthorized(t *testing.T) {
	f := newAPIFixture(t, "secret")
	_, err := NewClient(f.server.URL, "").Status(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.Code)
}

func TestClientUnavailable(t *testing.T) {
	_, err := NewClient("", "").Status(context.Background())
	require.True(t, errors.Is(err, ErrDaemonUnavailable))

	f := newAPIFixture(t, "")
	addr := f.server.URL
	f.server.Close()
	_, err = NewClient(addr, "").Status(context.Background())
	require.ErrorIs(t, err, ErrDaemonUnavailable)
}
