package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-etl/internal/domain"
	"golang.org/x/sync/errgroup"
)

// maxBackfillDays bounds a single backfill request.
const maxBackfillDays = 366

// Backfill runs every date in [from, to] with at most concurrency runs in
// flight. Distinct dates never share a partition key, so runs are independent;
// a failed date does not cancel the others. Statuses are returned in date
// order and the error joins every per-date failure.
func (c *Coordinator) Backfill(ctx context.Context, from, to time.Time, concurrency int) ([]domain.RunStatus, error) {
	dates, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	statuses := make([]domain.RunStatus, len(dates))
	errs := make([]error, len(dates))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, d := range dates {
		g.Go(func() error {
			statuses[i], errs[i] = c.Run(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("backfill finished", "from", dates[0].Format(domain.DateLayout), "to", dates[len(dates)-1].Format(domain.DateLayout), "runs", len(dates))
	return statuses, errors.Join(errs...)
}

func dateRange(from, to time.Time) ([]time.Time, error) {
	start, _ := domain.ParseRunDate(from.UTC().Format(domain.DateLayout))
	end, _ := domain.ParseRunDate(to.UTC().Format(domain.DateLayout))
	if end.Before(start) {
		return nil, fmt.Errorf("backfill range ends (%s) before it starts (%s)", end.Format(domain.DateLayout), start.Format(domain.DateLayout))
	}

	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
		if len(dates) > maxBackfillDays {
			return nil, fmt.Errorf("backfill range exceeds %d days", maxBackfillDays)
		}
	}
	return dates, nil
}
