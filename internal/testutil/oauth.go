package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/settings"
	"golang.org/x/oauth2"
)

// OAuthCode is the only authorization code the fake provider accepts.
const OAuthCode = "good-code"

// FakeOAuthProvider serves an OAuth token endpoint and an OpenID userinfo
// endpoint returning profile.
func FakeOAuthProvider(t *testing.T, profile map[string]interface{}) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != OAuthCode {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "provider-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(profile)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// NewOAuthStack builds a Stack whose google provider is enabled and points
// at a FakeOAuthProvider returning profile.
func NewOAuthStack(t *testing.T, profile map[string]interface{}) *Stack {
	t.Helper()

	srv := FakeOAuthProvider(t, profile)
	s := NewStack(t, auth.WithProviderEndpoint("google", oauth2.Endpoint{
		AuthURL:   srv.URL + "/auth",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}, srv.URL+"/userinfo"))

	_, err := s.Settings.Update(context.Background(), nil, []settings.Change{
		{Name: settings.ProviderEnabled("google"), Value: settings.BooleanValue(true)},
		{Name: settings.ProviderClientID("google"), Value: settings.StringValue("client-id")},
		{Name: settings.ProviderClientSecret("google"), Value: settings.StringValue("client-secret")},
	})
	if err != nil {
		t.Fatalf("failed to enable google: %v", err)
	}
	return s
}
