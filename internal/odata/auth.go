package odata

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/clientcredentials"
)

// TokenEnv is the environment variable consulted for a bearer token.
const TokenEnv = "ODATA_TOKEN"

// Credentials holds what the CLI knows about authenticating probes.
type Credentials struct {
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// ResolveAuthToken returns an explicitly provided token, else the value of
// ODATA_TOKEN. The second return value names the source.
func ResolveAuthToken(provided string) (string, string) {
	if t := strings.TrimSpace(provided); t != "" {
		return t, "flag"
	}
	if t := strings.TrimSpace(os.Getenv(TokenEnv)); t != "" {
		return t, TokenEnv
	}
	return "", ""
}

// AuthOptions turns credentials into client options. Anonymous access
// yields no options.
func AuthOptions(c Credentials) ([]Option, error) {
	hasClient := c.ClientID != "" || c.ClientSecret != "" || c.TokenURL != ""
	if hasClient {
		if c.ClientID == "" || c.ClientSecret == "" || c.TokenURL == "" {
			return nil, fmt.Errorf("client credentials need client id, client secret and token URL")
		}
		return []Option{WithClientCredentials(&clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			Scopes:       c.Scopes,
		})}, nil
	}
	if token, _ := ResolveAuthToken(c.Token); token != "" {
		return []Option{WithToken(token)}, nil
	}
	return nil, nil
}
