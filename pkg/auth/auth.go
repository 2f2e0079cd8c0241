// Package auth decorates outgoing request headers and query params
// with credentials. All strategies are pure map transforms except
// oauth2, which may perform a synchronous token-acquisition call.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"apicheck/pkg/httpclient"
	"apicheck/pkg/model/mauth"

	json "github.com/goccy/go-json"
)

// headerStyleKeyNames are api-key names that belong in headers; any
// other key name goes into the query string.
var headerStyleKeyNames = map[string]struct{}{
	"x-api-key":     {},
	"api-key":       {},
	"authorization": {},
	"x-auth-token":  {},
}

// ApplyResult carries the decorated maps plus a warning when the
// strategy degraded (oauth2 token acquisition failure). The request
// still goes out unauthenticated in that case; the warning makes the
// degradation inspectable instead of log-only.
type ApplyResult struct {
	Headers map[string]string
	Query   map[string]string
	Warning string
}

// Apply returns copies of headers and query with the configured
// strategy applied. A nil config is the none strategy. The client is
// only used by oauth2 for the token call.
func Apply(ctx context.Context, client httpclient.HttpClient, headers, query map[string]string, cfg *mauth.Config, log *slog.Logger) ApplyResult {
	out := ApplyResult{
		Headers: cloneMap(headers),
		Query:   cloneMap(query),
	}
	if cfg == nil || cfg.Kind == mauth.KindNone {
		return out
	}
	if log == nil {
		log = slog.Default()
	}

	switch cfg.Kind {
	case mauth.KindBearer:
		if cfg.Token != "" {
			out.Headers["Authorization"] = "Bearer " + cfg.Token
		}

	case mauth.KindAPIKey:
		if cfg.KeyName != "" && cfg.KeyValue != "" {
			if _, ok := headerStyleKeyNames[strings.ToLower(cfg.KeyName)]; ok {
				out.Headers[cfg.KeyName] = cfg.KeyValue
			} else {
				out.Query[cfg.KeyName] = cfg.KeyValue
			}
		}

	case mauth.KindBasic:
		if cfg.Username != "" && cfg.Password != "" {
			credentials := cfg.Username + ":" + cfg.Password
			encoded := base64.StdEncoding.EncodeToString([]byte(credentials))
			out.Headers["Authorization"] = "Basic " + encoded
		}

	case mauth.KindOAuth2:
		token := cfg.Token
		if token == "" {
			fetched, err := FetchClientCredentialsToken(ctx, client, cfg)
			if err != nil {
				// Token failure degrades to an unauthenticated request
				// rather than aborting the test.
				out.Warning = fmt.Sprintf("oauth2 token acquisition failed: %v", err)
				log.WarnContext(ctx, "oauth2 token acquisition failed",
					slog.String("token_url", cfg.TokenURL),
					slog.String("error", err.Error()))
				return out
			}
			token = fetched
		}
		out.Headers["Authorization"] = "Bearer " + token
	}

	return out
}

// FetchClientCredentialsToken performs the client_credentials grant
// against cfg.TokenURL and returns the access token from a 200
// response. The engine never caches the token; the caller decides.
func FetchClientCredentialsToken(ctx context.Context, client httpclient.HttpClient, cfg *mauth.Config) (string, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TokenURL == "" {
		return "", fmt.Errorf("incomplete oauth2 config: client_id, client_secret and token_url are required")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	for k, v := range cfg.Extra {
		form.Set(k, v)
	}

	resp, err := httpclient.SendRequestWithContext(ctx, client, &httpclient.Request{
		Method: "POST",
		URL:    cfg.TokenURL,
		Headers: []httpclient.Header{
			{HeaderKey: "Content-Type", Value: "application/x-www-form-urlencoded"},
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}
	return tokenResp.AccessToken, nil
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
