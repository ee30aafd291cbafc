package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sweepBatchSize = 100

// ClaimFunc returns invoice ids stuck in processing since before cutoff.
type ClaimFunc func(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

// StaleSweeper puts invoices left in processing back on the ingestion queue.
// Buffered jobs are lost on restart and a full queue rejects uploads after
// the row is written; both leave an invoice in processing with no job.
type StaleSweeper struct {
	Claim      ClaimFunc
	Submit     func(IngestJob) error
	Logger     *logrus.Logger
	StaleAfter time.Duration
	Interval   time.Duration
	Now        func() time.Time
}

func NewStaleSweeper(db *gorm.DB, queue *IngestQueue, logger *logrus.Logger, s config.IngestionSettings) *StaleSweeper {
	return &StaleSweeper{
		Claim: func(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
			return models.ClaimStaleProcessingInvoices(ctx, db, cutoff, limit)
		},
		Submit:     queue.Submit,
		Logger:     logger,
		StaleAfter: s.StaleAfter,
		Interval:   s.SweepInterval,
	}
}

// SweepOnce resubmits one batch of stale invoices and returns how many were
// queued. It stops early when the queue is full.
func (s *StaleSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	ids, err := s.Claim(ctx, now.Add(-s.StaleAfter), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		if err := s.Submit(IngestJob{InvoiceId: id}); err != nil {
			if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed) {
				break
			}
			return queued, err
		}
		queued++
	}
	if queued > 0 && s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":   "StaleSweeper",
			"claimed": len(ids),
			"queued":  queued,
		}).Warn("resubmitted stale processing invoices")
	}
	return queued, nil
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *StaleSweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if _, err := s.SweepOnce(ctx); err != nil && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{"field": "StaleSweeper"}).Error("stale sweep failed: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
