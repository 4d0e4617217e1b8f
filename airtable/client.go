package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/formbridge/formbridge/core"
)

const (
	DefaultAPIBaseURL = "https://api.airtable.com/v0"

	defaultAPIRequestTimeout = 30 * time.Second

	maxAPIResponseBodyBytes int64 = 4 << 20
)

// SupportedFieldTypes are the Airtable field kinds a form question can bind
// to; everything else is filtered out of metadata listings.
var SupportedFieldTypes = []string{
	"singleLineText",
	"multilineText",
	"singleSelect",
	"multipleSelect",
	"attachment",
}

// Client is a thin Airtable REST API client. Access tokens are passed per
// call rather than held on the client, since every call runs behind the
// core service's refresh gate.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption adjusts a Client. Tests point BaseURL at an httptest server.
type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if trimmed := strings.TrimSuffix(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(options ...ClientOption) *Client {
	client := &Client{
		baseURL:    DefaultAPIBaseURL,
		httpClient: &http.Client{Timeout: defaultAPIRequestTimeout},
	}
	for _, opt := range options {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Base is one entry in the bases listing.
type Base struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PermissionLevel string `json:"permissionLevel"`
}

// Table is one entry in a base's table listing.
type Table struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field is one column of a table.
type Field struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Webhook is one notification subscription on a base.
type Webhook struct {
	ID              string `json:"id"`
	NotificationURL string `json:"notificationUrl"`
	IsHookEnabled   bool   `json:"isHookEnabled"`
	MACSecretBase64 string `json:"macSecretBase64,omitempty"`
}

// WhoAmI resolves the account that owns an access token.
func (c *Client) WhoAmI(ctx context.Context, accessToken string) (core.Identity, error) {
	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, "/meta/whoami", nil, &payload); err != nil {
		return core.Identity{}, err
	}
	if strings.TrimSpace(payload.ID) == "" {
		return core.Identity{}, &core.UpstreamError{
			Code:        "whoami_malformed",
			Description: "identity response missing account id",
		}
	}
	return core.Identity{
		ID:    strings.TrimSpace(payload.ID),
		Email: strings.TrimSpace(payload.Email),
		Name:  strings.TrimSpace(payload.Name),
	}, nil
}

// ListBases returns the bases the token can read. Pagination offsets are
// followed until exhausted.
func (c *Client) ListBases(ctx context.Context, accessToken string) ([]Base, error) {
	var bases []Base
	offset := ""
	for {
		path := "/meta/bases"
		if offset != "" {
			path += "?offset=" + url.QueryEscape(offset)
		}
		var payload struct {
			Bases  []Base `json:"bases"`
			Offset string `json:"offset"`
		}
		if err := c.do(ctx, accessToken, http.MethodGet, path, nil, &payload); err != nil {
			return nil, err
		}
		bases = append(bases, payload.Bases...)
		if strings.TrimSpace(payload.Offset) == "" {
			return bases, nil
		}
		offset = payload.Offset
	}
}

// ListTables returns all tables of a base, including their field schemas.
func (c *Client) ListTables(ctx context.Context, accessToken, baseID string) ([]Table, error) {
	baseID = strings.TrimSpace(baseID)
	if baseID == "" {
		return nil, fmt.Errorf("airtable: base id is required")
	}
	var payload struct {
		Tables []Table `json:"tables"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, "/meta/bases/"+url.PathEscape(baseID)+"/tables", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Tables, nil
}

// ListTableFields returns the supported-type fields of one table.
func (c *Client) ListTableFields(ctx context.Context, accessToken, baseID, tableID string) ([]Field, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return nil, fmt.Errorf("airtable: table id is required")
	}
	tables, err := c.ListTables(ctx, accessToken, baseID)
	if err != nil {
		return nil, err
	}
	for _, table := range tables {
		if table.ID != tableID {
			continue
		}
		fields := make([]Field, 0, len(table.Fields))
		for _, field := range table.Fields {
			if fieldTypeSupported(field.Type) {
				fields = append(fields, field)
			}
		}
		return fields, nil
	}
	return nil, fmt.Errorf("airtable: table %s not found in base %s", tableID, baseID)
}

// GetRecord fetches one record with its full field map.
func (c *Client) GetRecord(ctx context.Context, accessToken, baseID, tableID, recordID string) (core.Record, error) {
	path, err := recordPath(baseID, tableID, recordID)
	if err != nil {
		return core.Record{}, err
	}
	var payload struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, path, nil, &payload); err != nil {
		return core.Record{}, err
	}
	return core.Record{ID: payload.ID, Fields: payload.Fields}, nil
}

// CreateRecord inserts one record and returns it with its assigned id.
func (c *Client) CreateRecord(ctx context.Context, accessToken, baseID, tableID string, fields map[string]any) (core.Record, error) {
	path, err := tablePath(baseID, tableID)
	if err != nil {
		return core.Record{}, err
	}
	request := map[string]any{
		"records": []map[string]any{{"fields": fields}},
	}
	var payload struct {
		Records []struct {
			ID     string         `json:"id"`
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}
	if err := c.do(ctx, accessToken, http.MethodPost, path, request, &payload); err != nil {
		return core.Record{}, err
	}
	if len(payload.Records) == 0 {
		return core.Record{}, &core.UpstreamError{
			Code:        "record_create_malformed",
			Description: "create response contained no records",
		}
	}
	return core.Record{ID: payload.Records[0].ID, Fields: payload.Records[0].Fields}, nil
}

// UpdateRecord patches the given fields of one record.
func (c *Client) UpdateRecord(ctx context.Context, accessToken, baseID, tableID, recordID string, fields map[string]any) (core.Record, error) {
	path, err := recordPath(baseID, tableID, recordID)
	if err != nil {
		return core.Record{}, err
	}
	var payload struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	}
	if err := c.do(ctx, accessToken, http.MethodPatch, path, map[string]any{"fields": fields}, &payload); err != nil {
		return core.Record{}, err
	}
	return core.Record{ID: payload.ID, Fields: payload.Fields}, nil
}

// DeleteRecord removes one record.
func (c *Client) DeleteRecord(ctx context.Context, accessToken, baseID, tableID, recordID string) error {
	path, err := recordPath(baseID, tableID, recordID)
	if err != nil {
		return err
	}
	return c.do(ctx, accessToken, http.MethodDelete, path, nil, nil)
}

// CreateWebhook subscribes to tableData changes on a base, optionally
// scoped to one table. The returned MAC secret is only disclosed here, at
// creation time.
func (c *Client) CreateWebhook(ctx context.Context, accessToken, baseID, tableID, notificationURL string) (Webhook, error) {
	baseID = strings.TrimSpace(baseID)
	if baseID == "" {
		return Webhook{}, fmt.Errorf("airtable: base id is required")
	}
	notificationURL = strings.TrimSpace(notificationURL)
	if notificationURL == "" {
		return Webhook{}, fmt.Errorf("airtable: notification url is required")
	}

	filters := map[string]any{
		"dataTypes": []string{"tableData"},
	}
	if tableID = strings.TrimSpace(tableID); tableID != "" {
		filters["recordChangeScope"] = tableID
	}
	request := map[string]any{
		"notificationUrl": notificationURL,
		"specification": map[string]any{
			"options": map[string]any{"filters": filters},
		},
	}

	var payload struct {
		ID              string `json:"id"`
		MACSecretBase64 string `json:"macSecretBase64"`
	}
	if err := c.do(ctx, accessToken, http.MethodPost, "/bases/"+url.PathEscape(baseID)+"/webhooks", request, &payload); err != nil {
		return Webhook{}, err
	}
	return Webhook{
		ID:              payload.ID,
		NotificationURL: notificationURL,
		IsHookEnabled:   true,
		MACSecretBase64: payload.MACSecretBase64,
	}, nil
}

// ListWebhooks returns the subscriptions on a base. MAC secrets are never
// included in listings.
func (c *Client) ListWebhooks(ctx context.Context, accessToken, baseID string) ([]Webhook, error) {
	baseID = strings.TrimSpace(baseID)
	if baseID == "" {
		return nil, fmt.Errorf("airtable: base id is required")
	}
	var payload struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, "/bases/"+url.PathEscape(baseID)+"/webhooks", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Webhooks, nil
}

// DeleteWebhook removes one subscription.
func (c *Client) DeleteWebhook(ctx context.Context, accessToken, baseID, webhookID string) error {
	baseID = strings.TrimSpace(baseID)
	webhookID = strings.TrimSpace(webhookID)
	if baseID == "" || webhookID == "" {
		return fmt.Errorf("airtable: base id and webhook id are required")
	}
	return c.do(ctx, accessToken, http.MethodDelete, "/bases/"+url.PathEscape(baseID)+"/webhooks/"+url.PathEscape(webhookID), nil, nil)
}

func (c *Client) do(ctx context.Context, accessToken, method, path string, request any, response any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("airtable: client is not configured")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return fmt.Errorf("airtable: access token is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader
	if request != nil {
		encoded, err := json.Marshal(request)
		if err != nil {
			return fmt.Errorf("airtable: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	if request != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &core.UpstreamError{Code: "api_request_failed", Cause: err}
	}
	defer httpResp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxAPIResponseBodyBytes+1))
	if readErr != nil {
		return &core.UpstreamError{Code: "api_response_unreadable", Cause: readErr}
	}
	if int64(len(raw)) > maxAPIResponseBodyBytes {
		return &core.UpstreamError{
			Code:        "api_response_too_large",
			Description: fmt.Sprintf("response exceeds %d bytes", maxAPIResponseBodyBytes),
		}
	}

	if httpResp.StatusCode < http.StatusOK || httpResp.StatusCode >= http.StatusMultipleChoices {
		return apiError(httpResp.StatusCode, raw)
	}
	if response == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, response); err != nil {
		return &core.UpstreamError{Code: "api_response_malformed", Cause: err}
	}
	return nil
}

// apiError lifts Airtable's error envelope into an UpstreamError. The
// envelope's error field may be a bare string or a {type, message} object.
func apiError(statusCode int, raw []byte) error {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	code := fmt.Sprintf("http_%d", statusCode)
	description := ""
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Error) > 0 {
		var message string
		if json.Unmarshal(envelope.Error, &message) == nil {
			description = message
		} else {
			var structured struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Error, &structured) == nil {
				if strings.TrimSpace(structured.Type) != "" {
					code = structured.Type
				}
				description = structured.Message
			}
		}
	}
	return &core.UpstreamError{Code: code, Description: description}
}

func fieldTypeSupported(fieldType string) bool {
	for _, supported := range SupportedFieldTypes {
		if fieldType == supported {
			return true
		}
	}
	return false
}

func tablePath(baseID, tableID string) (string, error) {
	baseID = strings.TrimSpace(baseID)
	tableID = strings.TrimSpace(tableID)
	if baseID == "" || tableID == "" {
		return "", fmt.Errorf("airtable: base id and table id are required")
	}
	return "/" + url.PathEscape(baseID) + "/" + url.PathEscape(tableID), nil
}

func recordPath(baseID, tableID, recordID string) (string, error) {
	base, err := tablePath(baseID, tableID)
	if err != nil {
		return "", err
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return "", fmt.Errorf("airtable: record id is required")
	}
	return base + "/" + url.PathEscape(recordID), nil
}
