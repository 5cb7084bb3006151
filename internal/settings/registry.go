package settings

import (
	"sort"

	"github.com/hugh/go-backoffice/internal/database/models"
)

// Setting names.
const (
	AppName      = "app_name"
	AppLogo      = "app_logo"
	AppFavicon   = "app_favicon"
	PrimaryColor = "primary_color"

	SignUpEnabled        = "sign_up_enabled"
	MagicLinkEnabled     = "magic_link_enabled"
	EmailPasswordEnabled = "email_password_enabled"

	PasswordUppercaseMin     = "password_uppercase_min"
	PasswordLowercaseMin     = "password_lowercase_min"
	PasswordNumbersMin       = "password_numbers_min"
	PasswordSymbolsMin       = "password_symbols_min"
	PasswordMinLength        = "password_min_length"
	PasswordUniqueCharacters = "password_should_contain_unique_chars"

	Owner               = "owner"
	ShareSettingsMode   = "share_settings_mode"
	ShareSettingsAdmins = "share_settings_admins"
)

// OAuthProviders lists providers whose credentials live in settings.
var OAuthProviders = []string{"google", "github", "microsoft", "facebook", "slack", "discord"}

func ProviderEnabled(provider string) string      { return provider + "_enabled" }
func ProviderClientID(provider string) string     { return provider + "_client_id" }
func ProviderClientSecret(provider string) string { return provider + "_client_secret" }

// Sharing modes for ShareSettingsMode.
const (
	ShareNone = "none"
	ShareAll  = "all"
	ShareList = "list"
)

// Definition describes a known setting and its compiled default.
type Definition struct {
	Name    string
	Default Value
	// Secret values are sealed at rest and masked in listings.
	Secret bool
	// Public values are exposed to unauthenticated clients.
	Public bool
	// Protected values are only written by dedicated operations
	// (ownership transfer, sharing), never by Update.
	Protected bool
}

func (d Definition) DataType() models.SettingDataType {
	return d.Default.DataType()
}

var registry = buildRegistry()

func buildRegistry() map[string]Definition {
	defs := []Definition{
		{Name: AppName, Default: StringValue("Backoffice"), Public: true},
		{Name: AppLogo, Default: ImageValue{}, Public: true},
		{Name: AppFavicon, Default: ImageValue{}, Public: true},
		{Name: PrimaryColor, Default: StringValue("#2563eb"), Public: true},

		{Name: SignUpEnabled, Default: BooleanValue(true), Public: true},
		{Name: MagicLinkEnabled, Default: BooleanValue(false), Public: true},
		{Name: EmailPasswordEnabled, Default: BooleanValue(true), Public: true},

		{Name: PasswordUppercaseMin, Default: NumberValue(0), Public: true},
		{Name: PasswordLowercaseMin, Default: NumberValue(0), Public: true},
		{Name: PasswordNumbersMin, Default: NumberValue(0), Public: true},
		{Name: PasswordSymbolsMin, Default: NumberValue(0), Public: true},
		{Name: PasswordMinLength, Default: NumberValue(8), Public: true},
		{Name: PasswordUniqueCharacters, Default: BooleanValue(false), Public: true},

		{Name: Owner, Default: ObjectIDValue{}, Protected: true},
		{Name: ShareSettingsMode, Default: StringValue(ShareNone), Protected: true},
		{Name: ShareSettingsAdmins, Default: ObjectIDsValue{}, Protected: true},
	}

	for _, p := range OAuthProviders {
		defs = append(defs,
			Definition{Name: ProviderEnabled(p), Default: BooleanValue(false), Public: true},
			Definition{Name: ProviderClientID(p), Default: StringValue("")},
			Definition{Name: ProviderClientSecret(p), Default: StringValue(""), Secret: true},
		)
	}

	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return m
}

// Lookup returns the definition registered under name.
func Lookup(name string) (Definition, bool) {
	d, ok := registry[name]
	return d, ok
}

// Definitions returns every registered definition ordered by name.
func Definitions() []Definition {
	out := make([]Definition, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
