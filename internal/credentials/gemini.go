// Package credentials turns locally stored Google credentials into token
// sources for the remote caller.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

const googleTokenEndpoint = "https://oauth2.googleapis.com/token"

// ErrNoCredentials is returned when neither a token nor an OAuth credentials
// file is configured.
var ErrNoCredentials = errors.New("no credentials configured")

// GeminiOAuthCredentials holds the OAuth credentials stored by the gemini CLI
// in ~/.gemini/oauth_creds.json.
type GeminiOAuthCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiryDate   int64  `json:"expiry_date"` // unix millis
	TokenType    string `json:"token_type,omitempty"`
}

// Token converts the stored credentials to an oauth2 token.
func (c *GeminiOAuthCredentials) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if c.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(c.ExpiryDate)
	}
	return tok
}

// DefaultGeminiCredentialsPath returns ~/.gemini/oauth_creds.json.
func DefaultGeminiCredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".gemini", "oauth_creds.json"), nil
}

// LoadGeminiOAuthCredentials reads an oauth_creds.json file.
func LoadGeminiOAuthCredentials(path string) (*GeminiOAuthCredentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("gemini OAuth credentials not found at %s; "+
				"run 'gemini' to authenticate first, or configure remote.access_token or remote.api_key", path)
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var creds GeminiOAuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.RefreshToken == "" && creds.AccessToken == "" {
		return nil, fmt.Errorf("invalid credentials in %s: no token", path)
	}
	return &creds, nil
}

// Options selects where the bearer credential comes from.
type Options struct {
	AccessToken     string // used as is, never refreshed
	CredentialsFile string // oauth_creds.json
	ClientID        string // needed to refresh tokens from CredentialsFile
	ClientSecret    string
}

// TokenSource returns a token source for opts. A static access token wins
// over a credentials file. Tokens from a file are refreshed against Google's
// token endpoint when a client id is configured.
func TokenSource(ctx context.Context, opts Options) (oauth2.TokenSource, error) {
	if opts.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken, TokenType: "Bearer"}), nil
	}
	if opts.CredentialsFile == "" {
		return nil, ErrNoCredentials
	}

	creds, err := LoadGeminiOAuthCredentials(opts.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tok := creds.Token()
	if opts.ClientID == "" || creds.RefreshToken == "" {
		return oauth2.StaticTokenSource(tok), nil
	}

	cfg := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: googleTokenEndpoint},
	}
	return oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)), nil
}
