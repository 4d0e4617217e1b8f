// Package airtable implements the Airtable OAuth token endpoint and REST
// API clients the core service depends on.
package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/formbridge/formbridge/core"
)

const (
	defaultTokenRequestTimeout = 15 * time.Second

	maxTokenResponseBodyBytes int64 = 1 << 20
)

// OAuthConfig configures the token endpoint client. A confidential client
// carries a secret and authenticates with HTTP Basic; a public client omits
// the secret and sends only its client id in the body. The two modes are
// mutually exclusive.
type OAuthConfig struct {
	ClientID       string
	ClientSecret   string
	TokenURL       string
	RedirectURI    string
	RequestTimeout time.Duration
}

// OAuthClient exchanges authorization codes and refresh tokens for grants.
// It implements core.TokenExchanger.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client
}

func NewOAuthClient(cfg OAuthConfig, httpClient *http.Client) (*OAuthClient, error) {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("airtable: oauth client id is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("airtable: oauth token url is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTokenRequestTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &OAuthClient{cfg: cfg, httpClient: httpClient}, nil
}

// Exchange redeems an authorization code with its PKCE verifier.
func (c *OAuthClient) Exchange(ctx context.Context, code, codeVerifier string) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, fmt.Errorf("airtable: oauth client is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenGrant{}, fmt.Errorf("airtable: authorization code is required")
	}
	if strings.TrimSpace(codeVerifier) == "" {
		return core.TokenGrant{}, fmt.Errorf("airtable: code verifier is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("code_verifier", strings.TrimSpace(codeVerifier))
	if c.cfg.RedirectURI != "" {
		form.Set("redirect_uri", c.cfg.RedirectURI)
	}
	return c.fetchToken(ctx, form)
}

// Refresh redeems a refresh token. Airtable mandates Basic auth here
// whenever a client secret exists.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (core.TokenGrant, error) {
	if c == nil {
		return core.TokenGrant{}, fmt.Errorf("airtable: oauth client is nil")
	}
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenGrant{}, fmt.Errorf("airtable: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.fetchToken(ctx, form)
}

type tokenEndpointPayload struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

func (c *OAuthClient) fetchToken(ctx context.Context, form url.Values) (core.TokenGrant, error) {
	if c.httpClient == nil {
		return core.TokenGrant{}, fmt.Errorf("airtable: oauth http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// Public clients identify themselves in the body; confidential clients
	// authenticate with Basic auth instead, never both.
	if c.cfg.ClientSecret == "" {
		form.Set("client_id", c.cfg.ClientID)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		c.cfg.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return core.TokenGrant{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.ClientSecret != "" {
		httpReq.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return core.TokenGrant{}, &core.UpstreamError{Code: "token_request_failed", Cause: err}
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return core.TokenGrant{}, &core.UpstreamError{Code: "token_response_unreadable", Cause: readErr}
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return core.TokenGrant{}, &core.UpstreamError{
			Code:        "token_response_too_large",
			Description: fmt.Sprintf("token response exceeds %d bytes", maxTokenResponseBodyBytes),
		}
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil {
		return core.TokenGrant{}, &core.UpstreamError{Code: "token_response_malformed", Cause: parseErr}
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return core.TokenGrant{}, &core.UpstreamError{
			Code:        tokenErrorCode(payload),
			Description: tokenErrorDescription(payload),
		}
	}
	if payload.ErrorCode != "" {
		return core.TokenGrant{}, &core.UpstreamError{
			Code:        payload.ErrorCode,
			Description: payload.ErrorDescription,
		}
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenGrant{}, &core.UpstreamError{
			Code:        "token_response_malformed",
			Description: "token endpoint response missing access token",
		}
	}

	return core.TokenGrant{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		ExpiresIn:    payload.ExpiresIn,
	}, nil
}

func tokenErrorCode(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "token_endpoint_error"
}

func tokenErrorDescription(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded struct {
		AccessToken      string          `json:"access_token"`
		RefreshToken     string          `json:"refresh_token"`
		TokenType        string          `json:"token_type"`
		Scope            string          `json:"scope"`
		ExpiresIn        json.RawMessage `json:"expires_in"`
		ErrorCode        string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(decoded.AccessToken),
		RefreshToken:     strings.TrimSpace(decoded.RefreshToken),
		TokenType:        strings.TrimSpace(decoded.TokenType),
		Scope:            strings.TrimSpace(decoded.Scope),
		ExpiresIn:        parseExpiresIn(decoded.ExpiresIn),
		ErrorCode:        strings.TrimSpace(decoded.ErrorCode),
		ErrorDescription: strings.TrimSpace(decoded.ErrorDescription),
	}, nil
}

// parseExpiresIn tolerates both numeric and quoted expires_in values, which
// providers disagree on.
func parseExpiresIn(raw json.RawMessage) int64 {
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if trimmed == "" || trimmed == "null" {
		return 0
	}
	if parsed, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return int64(parsed)
	}
	return 0
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}
