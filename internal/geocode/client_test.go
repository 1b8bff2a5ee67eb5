package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Backoff = []time.Duration{time.Millisecond, 2 * time.Millisecond}
	return p
}

func provider(t *testing.T, calls *int32, bodies ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(calls, 1)) - 1
		if n >= len(bodies) {
			n = len(bodies) - 1
		}
		if bodies[n] == "500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(bodies[n]))
	}))
}

const okTurin = `{"status":"OK","results":[{"formatted_address":"Piazza Castello, 10121 Torino TO, Italy","geometry":{"location":{"lat":45.0711,"lng":7.6858}}}]}`

func TestResolve_OK(t *testing.T) {
	var calls int32
	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		queries <- r.URL.RawQuery
		w.Write([]byte(okTurin))
	}))
	defer srv.Close()

	c := New(WithEndpoint(srv.URL))
	out := c.Resolve(context.Background(), "  Piazza Castello, Torino ", "k1")
	require.Equal(t, Resolved, out.Kind)
	assert.InDelta(t, 45.0711, out.Lat, 1e-9)
	assert.InDelta(t, 7.6858, out.Lng, 1e-9)
	assert.Equal(t, "Piazza Castello, 10121 Torino TO, Italy", out.FormattedAddress)
	assert.NoError(t, out.Err())
	gotQuery := <-queries
	assert.Contains(t, gotQuery, "key=k1")
	assert.Contains(t, gotQuery, "address=Piazza+Castello%2C+Torino")
	assert.EqualValues(t, 1, calls)
}

func TestResolve_StatusMapping(t *testing.T) {
	cases := []struct {
		body string
		want Kind
		err  error
	}{
		{`{"status":"ZERO_RESULTS","results":[]}`, NotFound, ErrNotFound},
		{`{"status":"OK","results":[]}`, NotFound, ErrNotFound},
		{`{"status":"OVER_QUERY_LIMIT"}`, QuotaExceeded, ErrQuotaExceeded},
		{`{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid."}`, Denied, ErrDenied},
		{`{"status":"UNKNOWN_ERROR"}`, Transient, ErrTransient},
		{`{"status":"INVALID_REQUEST"}`, Transient, ErrTransient},
	}
	for _, tc := range cases {
		t.Run(tc.want.String(), func(t *testing.T) {
			var calls int32
			srv := provider(t, &calls, tc.body)
			defer srv.Close()
			out := New(WithEndpoint(srv.URL), WithRetryPolicy(fastRetry())).Resolve(context.Background(), "x", "k")
			assert.Equal(t, tc.want, out.Kind)
			assert.ErrorIs(t, out.Err(), tc.err)
		})
	}
}

func TestResolve_QuotaAndDeniedNotRetried(t *testing.T) {
	for _, body := range []string{`{"status":"OVER_QUERY_LIMIT"}`, `{"status":"REQUEST_DENIED"}`} {
		var calls int32
		srv := provider(t, &calls, body)
		out := New(WithEndpoint(srv.URL), WithRetryPolicy(fastRetry())).Resolve(context.Background(), "x", "k")
		srv.Close()
		assert.NotEqual(t, Resolved, out.Kind)
		assert.EqualValues(t, 1, calls)
		assert.Equal(t, 1, out.Attempts)
	}
}

func TestResolve_TransientRetriedThenSucceeds(t *testing.T) {
	var calls int32
	srv := provider(t, &calls, "500", `{"status":"UNKNOWN_ERROR"}`, okTurin)
	defer srv.Close()
	out := New(WithEndpoint(srv.URL), WithRetryPolicy(fastRetry())).Resolve(context.Background(), "x", "k")
	assert.Equal(t, Resolved, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.EqualValues(t, 3, calls)
}

func TestResolve_TransientGivesUpAfterTwoRetries(t *testing.T) {
	var calls int32
	srv := provider(t, &calls, "500")
	defer srv.Close()
	out := New(WithEndpoint(srv.URL), WithRetryPolicy(fastRetry())).Resolve(context.Background(), "x", "k")
	assert.Equal(t, Transient, out.Kind)
	assert.EqualValues(t, 3, calls)
}

func TestResolve_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	p := fastRetry()
	p.MaxAttempts = 1
	out := New(WithEndpoint(srv.URL), WithAttemptTimeout(20*time.Millisecond), WithRetryPolicy(p)).
		Resolve(context.Background(), "x", "k")
	assert.Equal(t, Transient, out.Kind)
}

func TestResolve_NoRequestWithoutKeyOrAddress(t *testing.T) {
	var calls int32
	srv := provider(t, &calls, okTurin)
	defer srv.Close()
	c := New(WithEndpoint(srv.URL))
	assert.Equal(t, Denied, c.Resolve(context.Background(), "Via Roma 1", "").Kind)
	assert.Equal(t, NotFound, c.Resolve(context.Background(), "   ", "k").Kind)
	assert.EqualValues(t, 0, calls)
}

func TestRetryPolicy_CancelDuringBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Hour}, Retryable: func(o Outcome) bool { return o.Kind == Transient }}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := p.Do(ctx, func(context.Context) Outcome {
		calls++
		return Outcome{Kind: Transient}
	})
	assert.Equal(t, Transient, out.Kind)
	assert.ErrorIs(t, out.Cause, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_DelaySchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 800*time.Millisecond, p.delay(2))
	assert.Equal(t, 800*time.Millisecond, p.delay(5))
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("GEOCODING_ENDPOINT", "http://geo.local/json")
	t.Setenv("GEOCODING_TIMEOUT_MS", "1500")
	c := NewFromEnv()
	assert.Equal(t, "http://geo.local/json", c.endpoint)
	assert.Equal(t, 1500*time.Millisecond, c.timeout)
}
