package fintraffic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chrisdamba/roadtraffic/internal/httputil"
	"github.com/chrisdamba/roadtraffic/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `101;19;270;7;5;12;34;4.2;1;1;1;98;0;2551234;120;0
101;19;270;7;5;10;2;12.5;2;1;4;84;0;2551002;300;0

101;19;270;7;6;1;0;5.1;1;2;3;77;1;2556100;80;1
`

func newTestLoader(mock *httputil.MockHTTPClient) *Loader {
	return &Loader{
		Client:        mock,
		BaseURL:       "http://example.test/lamraw_TMS_YY_DD.csv",
		SortTotalTime: true,
		RetryAfter:    time.Second,
		sleep:         func(context.Context, time.Duration) error { return nil },
	}
}

func TestReportURL(t *testing.T) {
	assert.Equal(t,
		"https://tie.digitraffic.fi/api/tms/v1/history/raw/lamraw_101_19_270.csv",
		ReportURL(models.URLFintraffic, 101, 2019, 270))
	assert.Equal(t, "lamraw_101_05_7.parquet", CacheFileName(101, 2005, 7))
}

func TestParseReport(t *testing.T) {
	records, err := ParseReport(strings.NewReader(sampleReport))
	require.NoError(t, err)
	require.Len(t, records, 3)

	r := records[0]
	assert.Equal(t, 101, r.StationID)
	assert.Equal(t, 19, r.Year)
	assert.Equal(t, 270, r.Day)
	assert.Equal(t, 7, r.Hour)
	assert.InDelta(t, 4.2, r.Length, 1e-9)
	assert.InDelta(t, 98.0, r.Speed, 1e-9)
	assert.Equal(t, 2551234, r.TotalTime)
	assert.Equal(t, 1, records[2].QueueStart)
}

func TestParseReport_BadRows(t *testing.T) {
	_, err := ParseReport(strings.NewReader("1;2;3\n"))
	assert.ErrorContains(t, err, "expected 16 columns")

	_, err = ParseReport(strings.NewReader("x;19;270;7;5;12;34;4.2;1;1;1;98;0;2551234;120;0\n"))
	assert.ErrorContains(t, err, "column id")
}

func TestReadRawReport_Validation(t *testing.T) {
	t.Parallel()
	l := newTestLoader(httputil.NewMockHTTPClient())

	_, err := l.ReadRawReport(context.Background(), 101, 2019, 0)
	assert.ErrorIs(t, err, ErrInvalidDay)
	_, err = l.ReadRawReport(context.Background(), 101, 2019, 367)
	assert.ErrorIs(t, err, ErrInvalidDay)
	_, err = l.ReadRawReport(context.Background(), 101, 1994, 10)
	assert.ErrorIs(t, err, ErrInvalidYear)
}

func TestReadRawReport_SortsByTotalTime(t *testing.T) {
	t.Parallel()
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, sampleReport)
	l := newTestLoader(mock)

	records, err := l.ReadRawReport(context.Background(), 101, 2019, 270)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 2551002, records[0].TotalTime)
	assert.Equal(t, 2556100, records[2].TotalTime)
	assert.Equal(t, "/lamraw_101_19_270.csv", mock.GetRequest(0).URL.Path)
}

func TestReadRawReport_StatusHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responses []int
		wantLen   int
		wantErr   bool
		wantCalls int
	}{
		{name: "not found", responses: []int{http.StatusNotFound}, wantLen: 0, wantCalls: 1},
		{name: "retry succeeds", responses: []int{http.StatusTooManyRequests, http.StatusOK}, wantLen: 3, wantCalls: 2},
		{name: "retry rejected", responses: []int{http.StatusTooManyRequests, http.StatusTooManyRequests}, wantLen: 0, wantCalls: 2},
		{name: "retry not found", responses: []int{http.StatusTooManyRequests, http.StatusNotFound}, wantLen: 0, wantCalls: 2},
		{name: "server error", responses: []int{http.StatusInternalServerError}, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := httputil.NewMockHTTPClient()
			for _, code := range tt.responses {
				body := ""
				if code == http.StatusOK {
					body = sampleReport
				}
				mock.AddResponse(code, body)
			}
			l := newTestLoader(mock)

			records, err := l.ReadRawReport(context.Background(), 101, 2019, 270)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Len(t, records, tt.wantLen)
			}
			assert.Equal(t, tt.wantCalls, mock.RequestCount())
		})
	}
}

func TestReadRawReport_WaitCancelled(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusTooManyRequests, "")
	l := newTestLoader(mock)
	l.sleep = nil
	l.RetryAfter = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.ReadRawReport(ctx, 101, 2019, 270)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadRawReport_TransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddErrorResponse(errors.New("dial tcp: refused"))
	l := newTestLoader(mock)

	_, err := l.ReadRawReport(context.Background(), 101, 2019, 270)
	assert.ErrorContains(t, err, "refused")
}

func TestReadRawReport_CacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, sampleReport)
	l := newTestLoader(mock)
	l.CacheDir = dir
	l.SaveCache = true

	first, err := l.ReadRawReport(context.Background(), 101, 2019, 270)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "lamraw_101_19_270.parquet"))
	require.NoError(t, err)

	second, err := l.ReadRawReport(context.Background(), 101, 2019, 270)
	require.NoError(t, err)
	assert.Equal(t, 1, mock.RequestCount(), "second read must come from the cache")
	assert.Equal(t, first, second)
}

func TestReadRawReport_UnreadableCacheFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lamraw_101_19_270.parquet")
	require.NoError(t, os.WriteFile(path, []byte("PAR1"), 0o644))

	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, sampleReport)
	l := newTestLoader(mock)
	l.CacheDir = dir
	l.SaveCache = true

	records, err := l.ReadRawReport(context.Background(), 101, 2019, 270)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 1, mock.RequestCount())

	// the download replaced the broken file
	cached, err := ReadCache(path)
	require.NoError(t, err)
	assert.Len(t, cached, 3)
	assert.NoFileExists(t, path+".tmp")
}

func TestWriteCache_FailureLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "lamraw_101_19_270.parquet")

	err := WriteCache(path, []models.RawRecord{{StationID: 101}})
	require.Error(t, err)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".tmp")
}

func TestReadManyReports_KeepsDayOrder(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "_270.csv"):
			return okResponse(req, "101;19;270;7;5;12;34;4.2;1;1;1;98;0;100;120;0\n"), nil
		case strings.HasSuffix(req.URL.Path, "_272.csv"):
			return okResponse(req, "101;19;272;8;5;12;34;4.2;1;1;1;98;0;50;120;0\n"), nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Body: http.NoBody, Request: req}, nil
	}
	l := newTestLoader(mock)
	l.Concurrency = 3

	days := []models.DayRef{{Year: 2019, Day: 272}, {Year: 2019, Day: 271}, {Year: 2019, Day: 270}}
	records, err := l.ReadManyReports(context.Background(), 101, days)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 272, records[0].Day)
	assert.Equal(t, 270, records[1].Day)
	assert.Equal(t, 3, mock.RequestCount())
}

func TestReadManyReports_PropagatesErrors(t *testing.T) {
	l := newTestLoader(httputil.NewMockHTTPClient())
	_, err := l.ReadManyReports(context.Background(), 101, []models.DayRef{{Year: 2019, Day: 400}})
	assert.ErrorIs(t, err, ErrInvalidDay)
}

func okResponse(req *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}
}
