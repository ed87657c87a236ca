// Package daktela speaks the Daktela v6 REST API on top of the shared
// HTTP client: session login, request shaping (paths, paging, field
// selection, filters) and response decoding into ordered records.
package daktela

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/daktela-extractor/pkg/clients"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/json"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
)

const (
	// MaxPageSize is the largest take value the API honours.
	MaxPageSize = 1000

	apiPrefix = "api/v6/"
	loginPath = apiPrefix + "login.json"
)

// Credentials identify the API user.
type Credentials struct {
	Username string
	Password string
}

// Client issues Daktela API calls.
type Client struct {
	http   *clients.HTTPClient
	creds  Credentials
	logger *zap.Logger
}

// NewClient creates an API client. Requests are authenticated with a
// token obtained by a single login, performed lazily on first use.
func NewClient(ctx context.Context, httpClient *clients.HTTPClient, creds Credentials, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http:   httpClient,
		creds:  creds,
		logger: logger.With(zap.String("component", "daktela_client")),
	}
	httpClient.SetTokenSource(oauth2.ReuseTokenSource(nil, &loginTokenSource{ctx: ctx, client: c}))
	return c
}

// loginTokenSource logs in each time Token is called; ReuseTokenSource
// caches the result, and a token without expiry is reused for the run.
type loginTokenSource struct {
	ctx    context.Context
	client *Client
}

func (s *loginTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.client.Login(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

type loginResponse struct {
	Result json.RawMessage `json:"result"`
}

// Login exchanges the credentials for an access token.
func (c *Client) Login(ctx context.Context) (string, error) {
	c.logger.Info("authenticating with Daktela API")
	resp, err := c.http.Do(ctx, &clients.Request{
		Method:    http.MethodPost,
		Path:      loginPath,
		Anonymous: true,
		Table:     "login",
		Query: url.Values{
			"username":   {c.creds.Username},
			"password":   {c.creds.Password},
			"only_token": {"1"},
		},
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeAuthentication) {
			return "", err
		}
		return "", errors.Authentication("login request failed", err)
	}

	var body loginResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", errors.Authentication("failed to parse login response", err)
	}
	token, err := parseToken(body.Result)
	if err != nil {
		return "", err
	}
	c.logger.Info("authenticated with Daktela API")
	return token, nil
}

func parseToken(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", errors.Authentication("login response carries no token", nil)
	}
	if trimmed[0] == '"' {
		var token string
		if err := json.Unmarshal(trimmed, &token); err != nil || token == "" {
			return "", errors.Authentication("login response carries no token", err)
		}
		return token, nil
	}
	var obj struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj.AccessToken == "" {
		return "", errors.Authentication("login response carries no token", err)
	}
	return obj.AccessToken, nil
}

// PageRequest identifies one page of one table.
type PageRequest struct {
	Spec   *models.TableSpec
	Window models.Window
	Skip   int
	Take   int

	// ParentEndpoint and ParentID scope a dependent table's request.
	ParentEndpoint string
	ParentID       string
}

type listResponse struct {
	Error  json.RawMessage `json:"error"`
	Result *struct {
		Data  json.RawMessage `json:"data"`
		Total json.RawMessage `json:"total"`
	} `json:"result"`
}

// FetchPage requests one page and decodes its records.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*models.Page, error) {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(req.Skip))
	query.Set("take", strconv.Itoa(req.Take))
	EncodeFields(query, RequestFields(req.Spec))
	if err := EncodeFilters(query, BuildFilters(req.Spec, req.Window)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encoding filters")
	}

	resp, err := c.http.Do(ctx, &clients.Request{
		Path:  c.pathFor(req),
		Query: query,
		Table: req.Spec.Name,
	})
	if err != nil {
		return nil, err
	}

	page := &models.Page{
		Offset:    req.Skip,
		Requested: req.Take,
		Total:     -1,
		ParentID:  req.ParentID,
	}
	records, received, total, err := decodeList(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRequest, "decoding "+req.Spec.Name+" response").
			WithDetail("table", req.Spec.Name)
	}
	if dropped := received - len(records); dropped > 0 {
		c.logger.Warn("dropped null records",
			zap.String("table", req.Spec.Name),
			zap.Int("skip", req.Skip),
			zap.Int("dropped", dropped))
	}
	page.Records = records
	page.Received = received
	if total >= 0 {
		page.Total = total
	}
	return page, nil
}

// decodeList returns the non-null records of a list response, the number
// of entries received and the reported total.
func decodeList(body []byte) ([]*models.Record, int, int, error) {
	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, -1, err
	}
	if apiErr := bytes.TrimSpace(resp.Error); len(apiErr) > 0 && !isEmptyJSON(apiErr) {
		return nil, 0, -1, errors.Newf(errors.ErrorTypeRequest, "API error: %s", string(apiErr))
	}
	if resp.Result == nil {
		return nil, 0, -1, nil
	}

	total := parseTotal(resp.Result.Total)

	data := bytes.TrimSpace(resp.Result.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, 0, total, nil
	}
	var entries []*models.Record
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, 0, total, err
	}
	records := entries[:0]
	for _, rec := range entries {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, len(entries), total, nil
}

// parseTotal accepts the total as a number or a numeric string; -1 means unknown.
func parseTotal(raw json.RawMessage) int {
	v := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func isEmptyJSON(raw []byte) bool {
	switch string(raw) {
	case "null", "[]", "{}", `""`, "false":
		return true
	}
	return false
}

func (c *Client) pathFor(req PageRequest) string {
	if req.ParentID != "" {
		return apiPrefix + strings.Trim(req.ParentEndpoint, "/") + "/" +
			url.PathEscape(req.ParentID) + "/" + strings.Trim(req.Spec.ChildEndpointName(), "/") + ".json"
	}
	return PrepareEndpoint(req.Spec.EndpointName())
}

// PrepareEndpoint turns an endpoint name into an API path:
// "contacts" -> "api/v6/contacts.json".
func PrepareEndpoint(endpoint string) string {
	cleaned := strings.TrimLeft(endpoint, "/")
	if !strings.HasSuffix(cleaned, ".json") {
		cleaned += ".json"
	}
	if !strings.HasPrefix(cleaned, "api/") {
		cleaned = apiPrefix + cleaned
	}
	return cleaned
}

// RequestFields returns the field selection sent to the API: the allowlist
// plus every key field, or nil to request all fields.
func RequestFields(spec *models.TableSpec) []string {
	if len(spec.Fields) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(spec.Fields))
	var out []string
	add := func(names ...string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(spec.Fields...)
	add(spec.PrimaryKeys...)
	add(spec.SecondaryKeys...)
	add(spec.IncrementalField)
	return out
}

// DiscoverFields fetches a one-record sample of spec's endpoint and returns
// its field names, sorted. It is read-only and bypasses the allowlist.
func (c *Client) DiscoverFields(ctx context.Context, spec models.TableSpec) ([]string, error) {
	spec.Fields = nil
	page, err := c.FetchPage(ctx, PageRequest{Spec: &spec, Skip: 0, Take: 1})
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return []string{}, nil
	}
	keys := append([]string(nil), page.Records[0].Keys()...)
	sort.Strings(keys)
	return keys, nil
}
