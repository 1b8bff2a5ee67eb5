package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tb := NewTokenBucket(2)
	tb.now = func() time.Time { return now }

	assert.True(t, tb.allow())
	assert.True(t, tb.allow())
	assert.False(t, tb.allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, tb.allow())
	assert.False(t, tb.allow())

	now = now.Add(time.Second)
	assert.True(t, tb.allow())
	assert.True(t, tb.allow())
	assert.False(t, tb.allow())
}

func TestWrap(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Setenv("RATE_LIMIT_ENABLED", "false")
	h := Wrap(ok)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/quote", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_QPS", "1")
	h = Wrap(ok)
	codes := map[int]int{}
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/quote", nil))
		codes[rec.Code]++
	}
	assert.GreaterOrEqual(t, codes[http.StatusTooManyRequests], 1)
}
