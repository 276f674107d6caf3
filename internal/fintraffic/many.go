package fintraffic

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ReadManyReports loads every day for one station. Days without data are
// skipped and the result keeps the order of days.
func (l *Loader) ReadManyReports(ctx context.Context, station int, days []models.DayRef) ([]models.RawRecord, error) {
	start := time.Now()

	limit := rate.Inf
	if l.RequestsPerSecond > 0 {
		limit = rate.Limit(l.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	var bar *progressbar.ProgressBar
	if l.ShowProgress {
		bar = progressbar.NewOptions(len(days),
			progressbar.OptionSetDescription(fmt.Sprintf("TMS %d", station)),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	concurrency := l.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	perDay := make([][]models.RawRecord, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, d := range days {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			records, err := l.ReadRawReport(gctx, station, d.Year, d.Day)
			if err != nil {
				return fmt.Errorf("day %s: %w", d, err)
			}
			perDay[i] = records
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	var all []models.RawRecord
	loaded := 0
	for _, records := range perDay {
		if len(records) == 0 {
			continue
		}
		loaded++
		all = append(all, records...)
	}

	log.Printf("Loaded %d/%d days for TMS %d in %.2f sec", loaded, len(days), station, time.Since(start).Seconds())
	return all, nil
}
