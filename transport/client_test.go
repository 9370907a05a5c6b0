package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfit/coachengine/coacherr"
)

func TestMapStatus(t *testing.T) {
	cases := []struct {
		code int
		want coacherr.Kind
	}{
		{http.StatusUnauthorized, coacherr.KindUnauthorized},
		{http.StatusForbidden, coacherr.KindUnauthorized},
		{http.StatusTooManyRequests, coacherr.KindRateLimited},
		{http.StatusInternalServerError, coacherr.KindProviderError},
		{http.StatusBadGateway, coacherr.KindProviderError},
		{http.StatusBadRequest, coacherr.KindProviderError},
	}
	for _, tc := range cases {
		err := MapStatus(tc.code, http.Header{}, nil)
		assert.Equal(t, tc.want, err.Kind, "status %d", tc.code)
	}
}

func TestMapStatusRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "30")
	err := MapStatus(http.StatusTooManyRequests, header, nil)
	require.NotNil(t, err.RetryAfter)
	assert.Equal(t, 30*time.Second, *err.RetryAfter)

	err = MapStatus(http.StatusTooManyRequests, http.Header{}, nil)
	assert.Nil(t, err.RetryAfter)
}

func TestMapStatusBodyInMessage(t *testing.T) {
	err := MapStatus(http.StatusBadRequest, http.Header{}, []byte("model not found"))
	assert.Contains(t, err.Message, "model not found")
}

func TestSendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient(zerolog.Nop())
	header := http.Header{}
	header.Set("Authorization", "Bearer sk-test")

	resp, err := client.Send(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: header,
		Body:   []byte(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.True(t, client.Reachable())
}

func TestSendRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewClient(zerolog.Nop(), WithMaxRetries(3))
	resp, err := client.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(zerolog.Nop(), WithMaxRetries(3))
	_, err := client.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, coacherr.KindUnauthorized, coacherr.KindOf(err))
	assert.Equal(t, 1, attempts)
}

func TestStreamDeliversChunksAndClosesOnEOF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: one\n\n"))
		flusher.Flush()
		w.Write([]byte("data: two\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	client := NewClient(zerolog.Nop())
	chunks, errs := client.Stream(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	var got []byte
	for chunk := range chunks {
		got = append(got, chunk...)
	}
	assert.Contains(t, string(got), "data: one")
	assert.Contains(t, string(got), "data: two")

	// EOF is a clean close, not an error.
	err, open := <-errs
	assert.False(t, open && err != nil)
}

func TestStreamNon2xxSurfacesTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(zerolog.Nop())
	chunks, errs := client.Stream(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	for range chunks {
	}
	err := <-errs
	require.Error(t, err)
	assert.Equal(t, coacherr.KindRateLimited, coacherr.KindOf(err))
	ce := coacherr.AsError(err)
	require.NotNil(t, ce.RetryAfter)
	assert.Equal(t, 5*time.Second, *ce.RetryAfter)
}

func TestStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: first\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(zerolog.Nop())
	chunks, errs := client.Stream(ctx, Request{Method: http.MethodGet, URL: srv.URL})

	<-chunks
	cancel()

	for range chunks {
	}
	err := <-errs
	if err != nil {
		assert.Equal(t, coacherr.KindCancelled, coacherr.KindOf(err))
	}
}

func TestStreamIdleWatchdog(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data: first\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(zerolog.Nop(), WithStreamIdleTimeout(100*time.Millisecond))
	chunks, errs := client.Stream(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	for range chunks {
	}
	err := <-errs
	require.Error(t, err)
	assert.Equal(t, coacherr.KindTimeout, coacherr.KindOf(err))
}
