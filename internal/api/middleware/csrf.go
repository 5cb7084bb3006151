package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/pkg/crypto"
)

const (
	csrfTokenLength = 32
	csrfCookieName  = "csrf_token"
	csrfHeaderName  = "X-CSRF-Token"
	csrfFormField   = "csrf_token"
	csrfTokenExpiry = 24 * time.Hour
)

type CSRFToken struct {
	Token     string
	ExpiresAt time.Time
}

// CSRFStore keeps one token per cookie session, in memory.
type CSRFStore struct {
	tokens map[string]CSRFToken
	mu     sync.RWMutex
	done   chan struct{}
}

func NewCSRFStore() *CSRFStore {
	store := &CSRFStore{
		tokens: make(map[string]CSRFToken),
		done:   make(chan struct{}),
	}
	go store.cleanup()
	return store
}

// Close stops the cleanup goroutine.
func (s *CSRFStore) Close() {
	close(s.done)
}

func (s *CSRFStore) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for sessionID, token := range s.tokens {
				if now.After(token.ExpiresAt) {
					delete(s.tokens, sessionID)
				}
			}
			s.mu.Unlock()
		}
	}
}

// GetOrCreate returns the live token for sessionID, minting one if needed.
func (s *CSRFStore) GetOrCreate(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token, exists := s.tokens[sessionID]; exists && time.Now().Before(token.ExpiresAt) {
		return token.Token, nil
	}

	token, err := crypto.RandomToken(csrfTokenLength)
	if err != nil {
		return "", err
	}

	s.tokens[sessionID] = CSRFToken{
		Token:     token,
		ExpiresAt: time.Now().Add(csrfTokenExpiry),
	}
	return token, nil
}

// Validate compares providedToken with the session's token in constant time.
func (s *CSRFStore) Validate(sessionID, providedToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, exists := s.tokens[sessionID]
	if !exists || time.Now().After(token.ExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token.Token), []byte(providedToken)) == 1
}

// CSRF requires a matching X-CSRF-Token on unsafe requests authenticated
// by the session cookie. Requests carrying a header token, or no session
// cookie at all, cannot be forged cross-site and pass through.
func CSRF(store *CSRFStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				ensureCSRFCookie(w, r, store)
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "" || r.Header.Get("X-Auth-Token") != "" {
				next.ServeHTTP(w, r)
				return
			}

			sessionID := getSessionID(r)
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			csrfToken := r.Header.Get(csrfHeaderName)
			if csrfToken == "" {
				csrfToken = r.FormValue(csrfFormField)
			}
			if csrfToken == "" {
				respond.Error(w, nil, apperr.Forbidden("CSRF token missing"))
				return
			}
			if !store.Validate(sessionID, csrfToken) {
				respond.Error(w, nil, apperr.Forbidden("Invalid CSRF token"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, store *CSRFStore) {
	sessionID := getSessionID(r)
	if sessionID == "" {
		return
	}
	if _, err := r.Cookie(csrfCookieName); err == nil {
		return
	}

	token, err := store.GetOrCreate(sessionID)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(csrfTokenExpiry.Seconds()),
	})
}

// getSessionID derives a store key from the session cookie.
func getSessionID(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(cookie.Value))
	return hex.EncodeToString(sum[:])
}

// GetCSRFToken returns the token for the request's cookie session, or ""
// when the request has none.
func GetCSRFToken(r *http.Request, store *CSRFStore) (string, error) {
	sessionID := getSessionID(r)
	if sessionID == "" {
		return "", nil
	}
	return store.GetOrCreate(sessionID)
}
