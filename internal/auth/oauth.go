package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/settings"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/oauth2/slack"
)

// OAuthStateTTL bounds how long a consent round trip may take.
const OAuthStateTTL = 10 * time.Minute

// OAuthProfile is the subset of provider user info used to sign in.
type OAuthProfile struct {
	Email       string
	FirstName   string
	LastName    string
	DisplayName string
}

type oauthProvider struct {
	provider    models.Provider
	endpoint    oauth2.Endpoint
	scopes      []string
	userInfoURL string
	parse       func(body []byte) (*OAuthProfile, error)
}

func defaultOAuthProviders() map[string]oauthProvider {
	return map[string]oauthProvider{
		"google": {
			provider:    models.ProviderGoogle,
			endpoint:    google.Endpoint,
			scopes:      []string{"openid", "email", "profile"},
			userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			parse:       parseOpenIDProfile,
		},
		"github": {
			provider:    models.ProviderGitHub,
			endpoint:    github.Endpoint,
			scopes:      []string{"read:user", "user:email"},
			userInfoURL: "https://api.github.com/user",
			parse:       parseGitHubProfile,
		},
		"microsoft": {
			provider:    models.ProviderMicrosoft,
			endpoint:    microsoft.AzureADEndpoint("common"),
			scopes:      []string{"openid", "email", "profile", "User.Read"},
			userInfoURL: "https://graph.microsoft.com/v1.0/me",
			parse:       parseMicrosoftProfile,
		},
		"facebook": {
			provider:    models.ProviderFacebook,
			endpoint:    facebook.Endpoint,
			scopes:      []string{"email", "public_profile"},
			userInfoURL: "https://graph.facebook.com/me?fields=email,first_name,last_name,name",
			parse:       parseFacebookProfile,
		},
		"slack": {
			provider:    models.ProviderSlack,
			endpoint:    slack.Endpoint,
			scopes:      []string{"identity.basic", "identity.email"},
			userInfoURL: "https://slack.com/api/users.identity",
			parse:       parseSlackProfile,
		},
		"discord": {
			provider: models.ProviderDiscord,
			endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
			scopes:      []string{"identify", "email"},
			userInfoURL: "https://discord.com/api/users/@me",
			parse:       parseDiscordProfile,
		},
	}
}

// OAuthService signs users in through third-party providers whose client
// credentials are managed as settings.
type OAuthService struct {
	auth        *Service
	secret      []byte
	baseURL     string
	providers   map[string]oauthProvider
	githubEmail string
}

type OAuthOption func(*OAuthService)

// WithProviderEndpoint points a provider at different URLs.
func WithProviderEndpoint(name string, endpoint oauth2.Endpoint, userInfoURL string) OAuthOption {
	return func(o *OAuthService) {
		p := o.providers[name]
		p.endpoint = endpoint
		p.userInfoURL = userInfoURL
		o.providers[name] = p
	}
}

func NewOAuthService(auth *Service, secret, baseURL string, opts ...OAuthOption) *OAuthService {
	o := &OAuthService{
		auth:        auth,
		secret:      []byte(secret),
		baseURL:     baseURL,
		providers:   defaultOAuthProviders(),
		githubEmail: "https://api.github.com/user/emails",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OAuthService) config(ctx context.Context, name string) (*oauthProvider, *oauth2.Config, error) {
	p, ok := o.providers[name]
	if !ok {
		return nil, nil, apperr.NotFound("Provider")
	}

	resolved, err := o.auth.settings.GetMany(ctx,
		settings.ProviderEnabled(name),
		settings.ProviderClientID(name),
		settings.ProviderClientSecret(name),
	)
	if err != nil {
		return nil, nil, err
	}
	enabled, _ := resolved[0].Value.(settings.BooleanValue)
	clientID, _ := resolved[1].Value.(settings.StringValue)
	clientSecret, _ := resolved[2].Value.(settings.StringValue)
	if !bool(enabled) || clientID == "" {
		return nil, nil, apperr.Forbidden("Sign-in with " + name + " is disabled")
	}

	return &p, &oauth2.Config{
		ClientID:     string(clientID),
		ClientSecret: string(clientSecret),
		Endpoint:     p.endpoint,
		Scopes:       p.scopes,
		RedirectURL:  o.baseURL + "/api/v1/auth/oauth/" + name + "/callback",
	}, nil
}

// AuthCodeURL returns the provider consent URL and the signed state the
// callback must echo back.
func (o *OAuthService) AuthCodeURL(ctx context.Context, name string) (string, string, error) {
	_, cfg, err := o.config(ctx, name)
	if err != nil {
		return "", "", err
	}

	now := time.Now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   name,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(OAuthStateTTL)),
	}).SignedString(o.secret)
	if err != nil {
		return "", "", fmt.Errorf("signing state: %w", err)
	}

	return cfg.AuthCodeURL(state), state, nil
}

func (o *OAuthService) verifyState(name, state string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return o.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || claims.Subject != name {
		return apperr.ErrInvalidToken
	}
	return nil
}

// Callback exchanges code for a provider token, reads the profile and
// signs the matching user in, creating the account on first use.
func (o *OAuthService) Callback(ctx context.Context, name, code, state string) (*Session, error) {
	p, cfg, err := o.config(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := o.verifyState(name, state); err != nil {
		return nil, err
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "Could not complete sign-in with "+name, err)
	}

	client := cfg.Client(ctx, tok)
	profile, err := o.fetchProfile(ctx, client, p)
	if err != nil {
		return nil, err
	}
	if profile.Email == "" && p.provider == models.ProviderGitHub {
		profile.Email, err = o.fetchGitHubEmail(ctx, client)
		if err != nil {
			return nil, err
		}
	}

	email := NormalizeEmail(profile.Email)
	if email == "" {
		return nil, apperr.InvalidField("email", name+" did not share an email address")
	}

	user, err := o.auth.findByEmail(ctx, email)
	switch {
	case errors.Is(err, apperr.ErrUserNotFound):
		user, err = o.createOAuthUser(ctx, p.provider, email, profile)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if user.IsDisabled {
			return nil, apperr.ErrAccountDisabled
		}
		if !user.HasEmailVerified {
			if err := o.auth.db.WithContext(ctx).Model(user).Update("has_email_verified", true).Error; err != nil {
				return nil, fmt.Errorf("verifying email: %w", err)
			}
			user.HasEmailVerified = true
		}
	}

	if err := o.auth.touchLogin(ctx, user); err != nil {
		return nil, err
	}
	return o.auth.openSession(ctx, user)
}

func (o *OAuthService) createOAuthUser(ctx context.Context, provider models.Provider, email string, profile *OAuthProfile) (*models.User, error) {
	enabled, err := o.auth.settings.Bool(ctx, settings.SignUpEnabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, apperr.Forbidden("Sign-up is disabled")
	}

	user := &models.User{
		Email:            email,
		HasPassword:      false,
		HasEmailVerified: true,
		FirstName:        profile.FirstName,
		LastName:         profile.LastName,
		DisplayName:      profile.DisplayName,
		ProviderData:     provider,
	}
	if err := o.auth.createUser(ctx, user); err != nil {
		return nil, err
	}
	o.auth.logger.Info("user signed up", "user_id", user.ID, "provider", provider)
	return user, nil
}

func (o *OAuthService) fetchProfile(ctx context.Context, client *http.Client, p *oauthProvider) (*OAuthProfile, error) {
	body, err := getJSON(ctx, client, p.userInfoURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "Could not read "+string(p.provider)+" profile", err)
	}
	profile, err := p.parse(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, "Could not read "+string(p.provider)+" profile", err)
	}
	return profile, nil
}

func (o *OAuthService) fetchGitHubEmail(ctx context.Context, client *http.Client) (string, error) {
	body, err := getJSON(ctx, client, o.githubEmail)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnauthorized, "Could not read github emails", err)
	}
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", apperr.Wrap(apperr.KindUnauthorized, "Could not read github emails", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

func getJSON(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return body, nil
}

func parseOpenIDProfile(body []byte) (*OAuthProfile, error) {
	var v struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		GivenName     string `json:"given_name"`
		FamilyName    string `json:"family_name"`
		Name          string `json:"name"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	if v.EmailVerified != nil && !*v.EmailVerified {
		v.Email = ""
	}
	return &OAuthProfile{Email: v.Email, FirstName: v.GivenName, LastName: v.FamilyName, DisplayName: v.Name}, nil
}

func parseGitHubProfile(body []byte) (*OAuthProfile, error) {
	var v struct {
		Login string  `json:"login"`
		Name  string  `json:"name"`
		Email *string `json:"email"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	p := &OAuthProfile{DisplayName: v.Name}
	if p.DisplayName == "" {
		p.DisplayName = v.Login
	}
	if v.Email != nil {
		p.Email = *v.Email
	}
	return p, nil
}

func parseMicrosoftProfile(body []byte) (*OAuthProfile, error) {
	var v struct {
		DisplayName       string `json:"displayName"`
		GivenName         string `json:"givenName"`
		Surname           string `json:"surname"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	email := v.Mail
	if email == "" && strings.Contains(v.UserPrincipalName, "@") {
		email = v.UserPrincipalName
	}
	return &OAuthProfile{Email: email, FirstName: v.GivenName, LastName: v.Surname, DisplayName: v.DisplayName}, nil
}

func parseFacebookProfile(body []byte) (*OAuthProfile, error) {
	var v struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return &OAuthProfile{Email: v.Email, FirstName: v.FirstName, LastName: v.LastName, DisplayName: v.Name}, nil
}

func parseSlackProfile(body []byte) (*OAuthProfile, error) {
	var v struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		User  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	if !v.OK {
		return nil, fmt.Errorf("slack: %s", v.Error)
	}
	return &OAuthProfile{Email: v.User.Email, DisplayName: v.User.Name}, nil
}

func parseDiscordProfile(body []byte) (*OAuthProfile, error) {
	var v struct {
		Username   string  `json:"username"`
		GlobalName *string `json:"global_name"`
		Email      string  `json:"email"`
		Verified   bool    `json:"verified"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	p := &OAuthProfile{DisplayName: v.Username}
	if v.GlobalName != nil && *v.GlobalName != "" {
		p.DisplayName = *v.GlobalName
	}
	if v.Verified {
		p.Email = v.Email
	}
	return p, nil
}
