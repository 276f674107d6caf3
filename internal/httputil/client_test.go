package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1;2;3"))
	}))
	defer srv.Close()

	client := NewStandardClient(5 * time.Second)
	resp, err := Get(context.Background(), client, srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "1;2;3", string(body))
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient().
		AddResponse(http.StatusTooManyRequests, "").
		AddResponse(http.StatusOK, "body").
		AddErrorResponse(errors.New("connection reset"))

	resp, err := Get(context.Background(), mock, "http://example.test/a")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, err = Get(context.Background(), mock, "http://example.test/b")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "body", string(body))

	_, err = Get(context.Background(), mock, "http://example.test/c")
	assert.EqualError(t, err, "connection reset")

	// exhausted queue answers 404
	resp, err = Get(context.Background(), mock, "http://example.test/d")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, 4, mock.RequestCount())
	assert.Equal(t, "/b", mock.GetRequest(1).URL.Path)
	assert.Nil(t, mock.GetRequest(10))
}
