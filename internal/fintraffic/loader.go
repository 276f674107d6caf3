// Package fintraffic downloads raw per-vehicle reports of Finnish traffic
// measurement stations from the Digitraffic history API.
package fintraffic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/httputil"
	"github.com/chrisdamba/roadtraffic/internal/models"
)

var (
	ErrInvalidDay  = errors.New("day must be in 1..366")
	ErrInvalidYear = fmt.Errorf("year must be %d or later", models.FirstDataYear)
)

// Loader fetches raw reports and optionally keeps a parquet copy of each
// downloaded day in CacheDir.
type Loader struct {
	Client        httputil.HTTPClient
	BaseURL       string
	CacheDir      string
	SaveCache     bool
	SortTotalTime bool
	RetryAfter    time.Duration

	RequestsPerSecond float64
	Concurrency       int
	ShowProgress      bool

	// sleep waits between a 429 and the retry; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLoader(cfg models.SourceConfig) *Loader {
	return &Loader{
		Client:            httputil.NewStandardClient(cfg.RequestTimeout),
		BaseURL:           cfg.BaseURL,
		CacheDir:          cfg.CacheDir,
		SaveCache:         cfg.SaveCache,
		SortTotalTime:     cfg.SortTotalTime,
		RetryAfter:        cfg.RetryAfter,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Concurrency:       cfg.Concurrency,
		ShowProgress:      cfg.ShowProgress,
	}
}

// ReportURL fills the station, two-digit year and day into the URL template.
func ReportURL(template string, station, year, day int) string {
	return fillTemplate(template, station, year, day)
}

// CacheFileName is the parquet file name used for one cached report.
func CacheFileName(station, year, day int) string {
	return fillTemplate(models.CacheFilename, station, year, day)
}

func fillTemplate(template string, station, year, day int) string {
	return strings.NewReplacer(
		"TMS", strconv.Itoa(station),
		"YY", fmt.Sprintf("%02d", year%100),
		"DD", strconv.Itoa(day),
	).Replace(template)
}

// ReadRawReport loads the raw report of one station and day. A missing
// report or a server that keeps rejecting requests yields an empty slice
// and no error.
func (l *Loader) ReadRawReport(ctx context.Context, station, year, day int) ([]models.RawRecord, error) {
	if day < 1 || day > 366 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDay, day)
	}
	if year < models.FirstDataYear {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidYear, year)
	}

	var cachePath string
	if l.CacheDir != "" {
		cachePath = filepath.Join(l.CacheDir, CacheFileName(station, year, day))
		if _, err := os.Stat(cachePath); err == nil {
			records, err := ReadCache(cachePath)
			if err == nil {
				l.sortRecords(records)
				return records, nil
			}
			log.Printf("Warning: ignoring unreadable cached report %s: %v", cachePath, err)
		}
	}

	url := ReportURL(l.baseURL(), station, year, day)
	body, err := l.download(ctx, url)
	if err != nil {
		return nil, err
	}
	if body == nil {
		if l.SaveCache {
			log.Printf("Warning: nothing to cache for station %d day %d/%d", station, year, day)
		}
		return []models.RawRecord{}, nil
	}

	records, err := ParseReport(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", url, err)
	}

	if l.SaveCache && cachePath != "" && len(records) > 0 {
		if err := os.MkdirAll(l.CacheDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		if err := WriteCache(cachePath, records); err != nil {
			return nil, fmt.Errorf("failed to cache report: %w", err)
		}
		log.Printf("Report saved to %s", cachePath)
	}

	l.sortRecords(records)
	return records, nil
}

// download returns nil body when the report does not exist or the server
// is still rate limiting after one retry.
func (l *Loader) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := httputil.Get(ctx, l.Client, url)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", url, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		log.Printf("Too many requests, waiting %s before retrying %s", l.retryAfter(), url)
		if err := l.wait(ctx, l.retryAfter()); err != nil {
			return nil, err
		}
		resp, err = httputil.Get(ctx, l.Client, url)
		if err != nil {
			return nil, fmt.Errorf("failed to request %s: %w", url, err)
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Printf("Warning: the server is overloaded, try again later. Empty report returned for %s", url)
		return nil, nil
	case resp.StatusCode == http.StatusNotFound:
		log.Printf("Warning: report %s does not exist, try another day. Empty report returned", url)
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func (l *Loader) sortRecords(records []models.RawRecord) {
	if !l.SortTotalTime {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].TotalTime < records[j].TotalTime
	})
}

func (l *Loader) baseURL() string {
	if l.BaseURL == "" {
		return models.URLFintraffic
	}
	return l.BaseURL
}

func (l *Loader) retryAfter() time.Duration {
	if l.RetryAfter <= 0 {
		return models.DefaultRetryAfter
	}
	return l.RetryAfter
}

func (l *Loader) wait(ctx context.Context, d time.Duration) error {
	if l.sleep != nil {
		return l.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
