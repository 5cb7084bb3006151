package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hugh/go-backoffice/internal/api/dto"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/auth"
)

type AuthHandler struct {
	auth          *auth.Service
	oauth         *auth.OAuthService
	csrf          *middleware.CSRFStore
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(authService *auth.Service, oauthService *auth.OAuthService, csrf *middleware.CSRFStore, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		oauth:         oauthService,
		csrf:          csrf,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

func setSessionCookie(w http.ResponseWriter, s *auth.Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    s.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.ExpiresAt,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// OAuthStateCookie holds the state of the consent round trip started by
// this browser.
const OAuthStateCookie = "oauth_state"

const oauthCookiePath = "/api/v1/auth/oauth"

func (h *AuthHandler) setOAuthState(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookie,
		Value:    state,
		Path:     oauthCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.OAuthStateTTL.Seconds()),
	})
}

// takeOAuthState reports whether state was issued to this browser and
// clears the cookie either way.
func (h *AuthHandler) takeOAuthState(w http.ResponseWriter, r *http.Request, state string) bool {
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookie,
		Value:    "",
		Path:     oauthCookiePath,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	cookie, err := r.Cookie(OAuthStateCookie)
	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, s *auth.Session) {
	setSessionCookie(w, s, h.secureCookies)
	respond.JSON(w, status, dto.NewSessionResponse(s))
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req dto.SignUpRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	session, err := h.auth.SignUp(r.Context(), auth.SignUpInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	setSessionCookie(w, session, h.secureCookies)
	resp := dto.NewSessionResponse(session)
	resp.VerificationSent = &session.VerificationSent
	respond.JSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req dto.SignInRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	session, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), middleware.GetPrincipal(r.Context())); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	clearSessionCookie(w, h.secureCookies)
	respond.JSON(w, http.StatusOK, dto.SuccessResponse{Message: "Signed out"})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.Refresh(r.Context(), middleware.GetPrincipal(r.Context()))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

func (h *AuthHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	token, err := h.auth.RequestMagicLink(r.Context(), req.Email)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, dto.TokenSentResponse{Message: "Sign-in link sent", Token: token})
}

func (h *AuthHandler) MagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	session, err := h.auth.SignInWithMagicLink(r.Context(), req.Token)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.EmailRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	token, err := h.auth.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, dto.TokenSentResponse{Message: "Password reset link sent", Token: token})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.SuccessResponse{Message: "Password updated"})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	user, err := h.auth.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.NewUserDTO(user))
}

func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if !respond.Decode(w, r, &req) || !respond.Validated(w, req.Validate()) {
		return
	}

	user, err := h.auth.ConfirmEmailChange(r.Context(), req.Token)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.NewUserDTO(user))
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	token, err := h.auth.ResendVerification(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, dto.TokenSentResponse{Message: "Verification email sent", Token: token})
}

// OAuthStart redirects the browser to the provider's consent page.
func (h *AuthHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	target, state, err := h.oauth.AuthCodeURL(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	h.setOAuthState(w, state)
	http.Redirect(w, r, target, http.StatusFound)
}

// OAuthCallback completes a provider sign-in. Browsers land here, so
// failures redirect to the sign-in page with the error kind.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	issued := h.takeOAuthState(w, r, q.Get("state"))
	if q.Get("error") != "" {
		h.oauthFailed(w, r, string(apperr.KindUnauthorized))
		return
	}
	if !issued {
		h.oauthFailed(w, r, string(apperr.KindInvalidToken))
		return
	}

	session, err := h.oauth.Callback(r.Context(), chi.URLParam(r, "provider"), q.Get("code"), q.Get("state"))
	if err != nil {
		kind := apperr.KindOf(err)
		if kind == apperr.KindInternal {
			h.logger.Error("oauth callback failed", "provider", chi.URLParam(r, "provider"), "error", err)
		}
		h.oauthFailed(w, r, string(kind))
		return
	}

	setSessionCookie(w, session, h.secureCookies)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *AuthHandler) oauthFailed(w http.ResponseWriter, r *http.Request, kind string) {
	http.Redirect(w, r, middleware.SignInPath+"?"+url.Values{"error": {kind}}.Encode(), http.StatusFound)
}

// CSRFToken returns the token cookie-session clients must echo in
// X-CSRF-Token.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := middleware.GetCSRFToken(r, h.csrf)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.CSRFResponse{Token: token})
}
