package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-backoffice/internal/api/dto"
	"github.com/hugh/go-backoffice/internal/api/handlers"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/hugh/go-backoffice/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthRouter(t *testing.T) (*testutil.Stack, *chi.Mux) {
	t.Helper()
	s := testutil.NewStack(t)
	return s, authRouter(t, s)
}

func authRouter(t *testing.T, s *testutil.Stack) *chi.Mux {
	t.Helper()
	csrf := middleware.NewCSRFStore()
	t.Cleanup(csrf.Close)

	h := handlers.NewAuthHandler(s.Auth, s.OAuth, csrf, false, util.DiscardLogger())
	r := chi.NewRouter()
	r.Post("/sign-in", h.SignIn)
	r.Post("/magic-link", h.MagicLink)
	r.Post("/magic-link/verify", h.MagicLinkVerify)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
	r.Post("/email/confirm", h.ConfirmEmail)
	r.Get("/oauth/{provider}", h.OAuthStart)
	r.Get("/oauth/{provider}/callback", h.OAuthCallback)
	return r
}

func post(t *testing.T, r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, testutil.UnauthenticatedRequest(t, http.MethodPost, path, body))
	return rec
}

func TestMagicLink(t *testing.T) {
	s, r := setupAuthRouter(t)
	user := s.CreateUser(t, testutil.WithEmail("magic@example.com"), testutil.Unverified())

	t.Run("disabled by default", func(t *testing.T) {
		rec := post(t, r, "/magic-link", dto.EmailRequest{Email: user.Email})
		testutil.AssertStatus(t, rec, http.StatusForbidden)
	})

	_, err := s.Settings.Update(testutil.TestContext(t), nil, []settings.Change{
		{Name: settings.MagicLinkEnabled, Value: settings.BooleanValue(true)},
	})
	require.NoError(t, err)

	t.Run("missing email", func(t *testing.T) {
		rec := post(t, r, "/magic-link", dto.EmailRequest{})
		testutil.AssertStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("link signs in and verifies", func(t *testing.T) {
		rec := post(t, r, "/magic-link", dto.EmailRequest{Email: "MAGIC@example.com"})
		testutil.AssertStatus(t, rec, http.StatusAccepted)

		raw := s.Notifier.LastToken(t, models.ActionMagicLink)
		rec = post(t, r, "/magic-link/verify", dto.TokenRequest{Token: raw})
		testutil.AssertStatus(t, rec, http.StatusOK)

		var session dto.SessionResponse
		testutil.ParseJSONResponse(t, rec, &session)
		assert.NotEmpty(t, session.Token)
		assert.Equal(t, user.ID, session.User.ID)
		assert.True(t, session.User.HasEmailVerified)

		rec = post(t, r, "/magic-link/verify", dto.TokenRequest{Token: raw})
		testutil.AssertStatus(t, rec, http.StatusNotFound)
	})
}

func TestPasswordReset(t *testing.T) {
	s, r := setupAuthRouter(t)
	user := s.CreateUser(t, testutil.WithEmail("reset@example.com"))
	old := s.SignIn(t, user)

	rec := post(t, r, "/forgot-password", dto.EmailRequest{Email: user.Email})
	testutil.AssertStatus(t, rec, http.StatusAccepted)
	raw := s.Notifier.LastToken(t, models.ActionResetPassword)

	rec = post(t, r, "/reset-password", dto.ResetPasswordRequest{Token: raw, Password: "short"})
	testutil.AssertStatus(t, rec, http.StatusBadRequest)

	rec = post(t, r, "/reset-password", dto.ResetPasswordRequest{Token: raw, Password: "Brandnew123!"})
	testutil.AssertStatus(t, rec, http.StatusOK)

	_, err := s.Guard.Resolve(testutil.TestContext(t), old)
	assert.Error(t, err, "reset should revoke existing sessions")

	rec = post(t, r, "/sign-in", dto.SignInRequest{Email: user.Email, Password: testutil.TestPassword})
	testutil.AssertStatus(t, rec, http.StatusUnauthorized)

	rec = post(t, r, "/sign-in", dto.SignInRequest{Email: user.Email, Password: "Brandnew123!"})
	testutil.AssertStatus(t, rec, http.StatusOK)
}

func TestConfirmEmailChange(t *testing.T) {
	s, r := setupAuthRouter(t)
	user := s.CreateUser(t, testutil.WithEmail("before@example.com"))

	_, err := s.Auth.RequestEmailChange(testutil.TestContext(t), user, "after@example.com", testutil.TestPassword)
	require.NoError(t, err)
	raw := s.Notifier.LastToken(t, models.ActionNewEmailConfirmation)

	rec := post(t, r, "/email/confirm", dto.TokenRequest{Token: raw})
	testutil.AssertStatus(t, rec, http.StatusOK)

	var got dto.UserDTO
	testutil.ParseJSONResponse(t, rec, &got)
	assert.Equal(t, "after@example.com", got.Email)
	assert.Nil(t, got.NewEmail)
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func startOAuth(t *testing.T, r http.Handler) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	cookie := findCookie(rec, handlers.OAuthStateCookie)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, cookie.Value, location.Query().Get("state"))
	return cookie
}

func TestOAuthCallback_StateBoundToBrowser(t *testing.T) {
	s := testutil.NewOAuthStack(t, map[string]interface{}{"email": "oauth@example.com"})
	r := authRouter(t, s)

	mine := startOAuth(t, r)
	theirs := startOAuth(t, r)
	callback := "/oauth/google/callback?" + url.Values{
		"code":  {testutil.OAuthCode},
		"state": {mine.Value},
	}.Encode()

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no state cookie", nil},
		{"state issued to another browser", theirs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, callback, nil)
			if tt.cookie != nil {
				req.AddCookie(&http.Cookie{Name: tt.cookie.Name, Value: tt.cookie.Value})
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/sign-in?error=invalid_token", rec.Header().Get("Location"))
			assert.Nil(t, findCookie(rec, middleware.SessionCookie))
		})
	}

	req := httptest.NewRequest(http.MethodGet, callback, nil)
	req.AddCookie(&http.Cookie{Name: mine.Name, Value: mine.Value})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.NotNil(t, findCookie(rec, middleware.SessionCookie))
	cleared := findCookie(rec, handlers.OAuthStateCookie)
	require.NotNil(t, cleared)
	assert.True(t, cleared.MaxAge < 0)
}
