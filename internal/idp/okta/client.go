// internal/idp/okta/client.go
package okta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"dirsync/internal/idp"
	"dirsync/pkg/faults"
)

const (
	tokenPath = "/oauth2/v1/token"
	// Read-only scopes the service app must hold for a full crawl.
	tokenScopes = "okta.apps.read okta.users.read okta.groups.read"

	nonceHeader = "Dpop-Nonce"
	resetHeader = "X-Rate-Limit-Reset"
)

// Client issues signed, proof-of-possession-authenticated requests to
// the Okta API. One Client serves one directory for one pass; the
// access token it holds is not shared.
type Client struct {
	baseURL       string
	clientID      string
	keyID         string
	key           jwk.Key
	httpClient    *http.Client
	log           *zap.SugaredLogger
	retryAttempts int
	pageSize      int

	accessToken string

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg idp.ProviderConfig) (*Client, error) {
	if cfg.Credentials.ClientID == "" || cfg.Credentials.PrivateKey == "" {
		return nil, errors.New("okta: directory is missing client credentials")
	}
	key, err := jwk.ParseKey([]byte(cfg.Credentials.PrivateKey), jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("okta: parse private key: %w", err)
	}
	_ = key.Set(jwk.KeyIDKey, cfg.Credentials.KeyID)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + strings.TrimSuffix(cfg.Credentials.Domain, "/")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Settings.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		clientID:      cfg.Credentials.ClientID,
		keyID:         cfg.Credentials.KeyID,
		key:           key,
		httpClient:    httpClient,
		log:           cfg.Log,
		retryAttempts: cfg.Settings.RetryAttempts,
		pageSize:      cfg.Settings.PageSize,
		now:           time.Now,
		sleep:         sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchToken exchanges a signed client assertion plus a DPoP proof for
// a short-lived access token. A 400 carrying a Dpop-Nonce header is the
// provider's nonce challenge: the exchange is retried exactly once with
// the nonce embedded in the proof; a second challenge is fatal.
func (c *Client) FetchToken(ctx context.Context) error {
	return c.fetchToken(ctx, "")
}

func (c *Client) fetchToken(ctx context.Context, nonce string) error {
	tokenURL := c.baseURL + tokenPath

	rateLimitWaits := 0
	for {
		assertion, err := signClientAssertion(c.key, c.keyID, c.clientID, tokenURL, c.now())
		if err != nil {
			return err
		}
		proof, err := signProof(c.key, c.keyID, http.MethodPost, tokenURL, nonce, c.now())
		if err != nil {
			return err
		}
		form := url.Values{
			"grant_type":            {"client_credentials"},
			"scope":                 {tokenScopes},
			"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
			"client_assertion":      {assertion},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("DPoP", proof)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var out struct {
				AccessToken string `json:"access_token"`
				TokenType   string `json:"token_type"`
			}
			if err := json.Unmarshal(body, &out); err != nil {
				return fmt.Errorf("okta: decode token response: %w", err)
			}
			if out.AccessToken == "" {
				return errors.New("okta: token response held no access token")
			}
			c.accessToken = out.AccessToken
			return nil

		case resp.StatusCode == http.StatusBadRequest && resp.Header.Get(nonceHeader) != "":
			if nonce != "" {
				// Already answered one challenge this call.
				return faults.NewAPIError(resp.StatusCode, body)
			}
			nonce = resp.Header.Get(nonceHeader)
			c.log.Debugw("dpop nonce challenge", "endpoint", tokenPath)
			continue

		case resp.StatusCode == http.StatusTooManyRequests && rateLimitWaits <= c.retryAttempts:
			rateLimitWaits++
			if err := c.waitForReset(ctx, resp.Header); err != nil {
				return err
			}
			continue

		default:
			return faults.NewAPIError(resp.StatusCode, body)
		}
	}
}

// getPage performs one authenticated GET against a list endpoint and
// returns the raw body plus the next-page URL from the Link header.
// GETs are idempotent, so 5xx responses are retried up to the
// configured budget and 429s wait for the advertised reset instant.
func (c *Client) getPage(ctx context.Context, pageURL string) ([]byte, string, error) {
	if c.accessToken == "" {
		return nil, "", errors.New("okta: no access token held")
	}

	serverRetries := 0
	rateLimitWaits := 0
	for {
		proof, err := signProof(c.key, c.keyID, http.MethodGet, stripQuery(pageURL), "", c.now())
		if err != nil {
			return nil, "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "DPoP "+c.accessToken)
		req.Header.Set("DPoP", proof)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, "", err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, "", err
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nextLink(resp.Header), nil

		case resp.StatusCode == http.StatusTooManyRequests && rateLimitWaits <= c.retryAttempts:
			rateLimitWaits++
			if err := c.waitForReset(ctx, resp.Header); err != nil {
				return nil, "", err
			}
			continue

		case resp.StatusCode >= 500 && serverRetries < c.retryAttempts:
			serverRetries++
			c.log.Debugw("retrying after server error", "status", resp.StatusCode, "url", pageURL)
			continue

		default:
			return nil, "", faults.NewAPIError(resp.StatusCode, body)
		}
	}
}

// waitForReset delays until the rate-limit window reopens. The reset
// header is unix epoch seconds; a reset already in the past clamps to
// zero wait.
func (c *Client) waitForReset(ctx context.Context, h http.Header) error {
	var wait time.Duration
	if raw := h.Get(resetHeader); raw != "" {
		if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
			wait = time.Unix(sec, 0).Sub(c.now())
		}
	}
	if wait < 0 {
		wait = 0
	}
	c.log.Infow("rate limited by provider", "wait", wait.String())
	return c.sleep(ctx, wait)
}

// listURL builds the first-page URL for a collection path.
func (c *Client) listURL(path string) string {
	return fmt.Sprintf("%s%s?limit=%d", c.baseURL, path, c.pageSize)
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// nextLink extracts the rel="next" target from the Link header; an
// absent link terminates the collection.
func nextLink(h http.Header) string {
	for _, raw := range h.Values("Link") {
		for _, part := range strings.Split(raw, ",") {
			fields := strings.Split(part, ";")
			if len(fields) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(fields[0]), "<>")
			for _, attr := range fields[1:] {
				if strings.TrimSpace(attr) == `rel="next"` {
					return target
				}
			}
		}
	}
	return ""
}
