package domain

import (
	"strings"
	"time"
)

// SettingsKeyGoogleCalendar is the integration_settings row holding the OAuth client.
const SettingsKeyGoogleCalendar = "google_calendar"

// DefaultCalendarScopes are requested when the settings record lists none.
var DefaultCalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
}

// OAuthSettings is the admin-editable OAuth client configuration.
type OAuthSettings struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret,omitempty"`
	RedirectURI  string    `json:"redirect_uri"`
	Scopes       []string  `json:"scopes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Missing lists the fields that must be set before any sync can run.
func (s *OAuthSettings) Missing() []string {
	var missing []string
	if strings.TrimSpace(s.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if strings.TrimSpace(s.ClientSecret) == "" {
		missing = append(missing, "client_secret")
	}
	if strings.TrimSpace(s.RedirectURI) == "" {
		missing = append(missing, "redirect_uri")
	}
	return missing
}

// EffectiveScopes falls back to DefaultCalendarScopes.
func (s *OAuthSettings) EffectiveScopes() []string {
	if len(s.Scopes) == 0 {
		return DefaultCalendarScopes
	}
	return s.Scopes
}

// Masked returns a copy safe to send to the admin UI.
func (s OAuthSettings) Masked() OAuthSettings {
	if s.ClientSecret != "" {
		n := len(s.ClientSecret)
		if n > 4 {
			s.ClientSecret = strings.Repeat("*", 8) + s.ClientSecret[n-4:]
		} else {
			s.ClientSecret = strings.Repeat("*", 8)
		}
	}
	s.Scopes = s.EffectiveScopes()
	return s
}
