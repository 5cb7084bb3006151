package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/auth"
)

// maxPeekBytes bounds how much of a body ByEmail reads to find the address.
const maxPeekBytes = 64 << 10

// Limiter allows at most limit hits per key within a sliding window.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
	done chan struct{}
	once sync.Once
}

type LimiterOption func(*Limiter)

// WithLimiterClock overrides the wall clock used to age hits.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter starts a limiter and its sweeper. Call Close to stop it.
func NewLimiter(limit int, window time.Duration, opts ...LimiterOption) *Limiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweep()
	return l
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-l.window)
			for key, hits := range l.hits {
				if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
					delete(l.hits, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Allow records a hit for key unless the window is already full.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	hits := l.hits[key]
	live := 0
	for live < len(hits) && !hits[live].After(cutoff) {
		live++
	}
	hits = hits[live:]

	if len(hits) >= l.limit {
		l.hits[key] = hits
		return Decision{Remaining: 0, Reset: hits[0].Add(l.window)}
	}

	hits = append(hits, now)
	l.hits[key] = hits
	return Decision{Allowed: true, Remaining: l.limit - len(hits), Reset: hits[0].Add(l.window)}
}

// KeyFunc picks the bucket a request counts against.
type KeyFunc func(r *http.Request) string

// ByIP keys requests by client address.
func ByIP(r *http.Request) string {
	return "ip:" + clientIP(r)
}

// ByUser keys requests by the signed-in user, falling back to the client
// address for anonymous requests.
func ByUser(r *http.Request) string {
	if u := GetUser(r.Context()); u != nil {
		return "user:" + u.ID.String()
	}
	return ByIP(r)
}

// ByEmail keys requests by the account they target: the signed-in user's
// address, or the normalized "email" field of a JSON body. Requests naming
// no address fall back to the client address.
func ByEmail(r *http.Request) string {
	if u := GetUser(r.Context()); u != nil {
		return "email:" + u.Email
	}
	if email := peekEmail(r); email != "" {
		return "email:" + email
	}
	return ByIP(r)
}

// peekEmail reads the email field of a JSON body and restores the body for
// the handler.
func peekEmail(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body))
	if err != nil {
		return ""
	}

	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(buf, &body) != nil {
		return ""
	}
	return auth.NormalizeEmail(body.Email)
}

// Throttle rejects requests whose key has used up its window with a
// rate_limited error.
func Throttle(l *Limiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(key(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				retry := int64(d.Reset.Sub(l.now()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				respond.Error(w, nil, apperr.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
