package registrykit

import (
	"net/http"
	"time"
)

// ServerConfig configures the OAuth handshake, session cookies, and TTLs.
type ServerConfig struct {
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
	SessionSigningKey  []byte
	SessionIssuer      string
	CookieDomain       string
	SessionCookieName  string
	SessionTTL         time.Duration
	StateTTL           time.Duration
	SameSiteMode       http.SameSite
	AllowInsecureHTTP  bool
}
