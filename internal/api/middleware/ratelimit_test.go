package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hugh/go-backoffice/internal/api/dto"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, limit int, clock *testutil.Clock) *middleware.Limiter {
	t.Helper()
	l := middleware.NewLimiter(limit, time.Minute, middleware.WithLimiterClock(clock.Now))
	t.Cleanup(l.Close)
	return l
}

func TestLimiter_SlidingWindow(t *testing.T) {
	clock := testutil.NewClock()
	l := newLimiter(t, 2, clock)

	first := l.Allow("a")
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), first.Reset)

	clock.Advance(10 * time.Second)
	assert.True(t, l.Allow("a").Allowed)

	denied := l.Allow("a")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.True(t, l.Allow("b").Allowed, "keys are counted separately")

	clock.Advance(51 * time.Second)
	assert.True(t, l.Allow("a").Allowed, "the oldest hit left the window")
	assert.False(t, l.Allow("a").Allowed)
}

func TestThrottle_ByIP(t *testing.T) {
	handler := middleware.Throttle(newLimiter(t, 2, testutil.NewClock()), middleware.ByIP)(ok())

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestThrottle_ByEmail(t *testing.T) {
	// The handler echoes the decoded address to prove the body survives.
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req dto.EmailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(req.Email))
	})
	handler := middleware.Throttle(newLimiter(t, 2, testutil.NewClock()), middleware.ByEmail)(echo)

	send := func(email, addr string) *httptest.ResponseRecorder {
		body, err := json.Marshal(dto.EmailRequest{Email: email})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/forgot-password", strings.NewReader(string(body)))
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send("Victim@Example.com", "10.0.0.1:1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Victim@Example.com", rec.Body.String())
	assert.Equal(t, http.StatusOK, send("victim@example.com", "10.0.0.2:1").Code)

	rec = send("  VICTIM@example.com ", "10.0.0.3:1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "changing address case or client does not reset the limit")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Code)

	assert.Equal(t, http.StatusOK, send("other@example.com", "10.0.0.3:1").Code)
}

func TestThrottle_ByEmailUsesSignedInUser(t *testing.T) {
	s := testutil.NewStack(t)
	user := s.CreateUser(t, testutil.WithEmail("member@example.com"))
	principal := s.Principal(t, s.SignIn(t, user))

	handler := middleware.Throttle(newLimiter(t, 1, testutil.NewClock()), middleware.ByEmail)(ok())
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/resend-verification", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), principal))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
