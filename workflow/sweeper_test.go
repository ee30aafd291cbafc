package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaleSweeperResubmitsClaimedInvoices(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotCutoff time.Time
	var gotLimit int
	queue := NewIngestQueue(nil, 1, 8, 3, nil)
	s := &StaleSweeper{
		Claim: func(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
			gotCutoff, gotLimit = cutoff, limit
			return []string{"inv-1", "inv-2"}, nil
		},
		Submit:     queue.Submit,
		StaleAfter: 10 * time.Minute,
		Now:        func() time.Time { return now },
	}

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-10*time.Minute), gotCutoff)
	assert.Equal(t, sweepBatchSize, gotLimit)
	require.Equal(t, 2, queue.Len())

	job := <-queue.jobs
	assert.Equal(t, "inv-1", job.InvoiceId)
	assert.Equal(t, 1, job.Attempt)
}

func TestStaleSweeperStopsOnFullQueue(t *testing.T) {
	queue := NewIngestQueue(nil, 1, 1, 3, nil)
	s := &StaleSweeper{
		Claim: func(context.Context, time.Time, int) ([]string, error) {
			return []string{"a", "b", "c"}, nil
		},
		Submit:     queue.Submit,
		StaleAfter: time.Minute,
	}
	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queue.Stop()
	n, err = s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStaleSweeperClaimError(t *testing.T) {
	s := &StaleSweeper{
		Claim: func(context.Context, time.Time, int) ([]string, error) {
			return nil, errors.New("db down")
		},
		Submit: func(IngestJob) error {
			t.Fatal("nothing should be submitted")
			return nil
		},
	}
	_, err := s.SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestStaleSweeperRunSweepsOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan struct{}, 1)
	s := &StaleSweeper{
		Claim: func(context.Context, time.Time, int) ([]string, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return nil, nil
		},
		Submit:   func(IngestJob) error { return nil },
		Interval: time.Hour,
	}
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("no sweep on start")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
