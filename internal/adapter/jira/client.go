// Package jira implements adapter.Adapter on the Jira REST v2 API.
//
// Remote field names are Jira field ids (summary, description, status,
// labels, assignee, priority, issuetype, customfield_10016, ...). Object
// valued fields are flattened to their name: status, priority and issuetype
// by name, assignee by account id (or user name on Server). Writing status
// goes through the transitions endpoint, since Jira rejects it in an edit.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/refs"
)

const (
	maxReadResponseSize = 8 << 20
	defaultPageSize     = 50
	defaultIssueType    = "Task"
)

// HTTPClient is the subset of *http.Client the adapter uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Project    string
	Method     adapter.AuthMethod
	Email      string
	Token      string
	HTTPClient HTTPClient
	PageSize   int
	// Fields limits what searches return. Empty means "*navigable".
	Fields []string
	Now    func() time.Time
}

// Client talks to one Jira project.
type Client struct {
	baseURL  string
	project  string
	method   adapter.AuthMethod
	email    string
	token    string
	client   HTTPClient
	pageSize int
	fields   string
	now      func() time.Time
}

var _ adapter.Adapter = (*Client)(nil)

type issuePayload struct {
	Key    string                     `json:"key"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type searchPayload struct {
	StartAt    int            `json:"startAt"`
	MaxResults int            `json:"maxResults"`
	Total      int            `json:"total"`
	Issues     []issuePayload `json:"issues"`
}

// nameFields are object-valued fields written and read by name.
var nameFields = map[string]bool{
	"priority":  true,
	"issuetype": true,
}

// New validates cfg and returns a client. It does no I/O.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ir.Errorf(ir.CodeConfig, "jira base_url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, ir.WrapError(ir.CodeConfig, "jira base_url is not a URL", err)
	}
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, ir.Errorf(ir.CodeConfig, "jira project key is required")
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ir.Errorf(ir.CodeAuth, "jira API token is required")
	}
	method := cfg.Method
	switch method {
	case "":
		method = adapter.AuthBasic
		if cfg.Email == "" {
			method = adapter.AuthToken
		}
	case adapter.AuthBasic, adapter.AuthToken:
	default:
		return nil, ir.Errorf(ir.CodeAuth, "unsupported jira auth method %q", method)
	}
	if method == adapter.AuthBasic && strings.TrimSpace(cfg.Email) == "" {
		return nil, ir.Errorf(ir.CodeAuth, "jira basic auth requires an email")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	fields := "*navigable"
	if len(cfg.Fields) > 0 {
		fields = strings.Join(cfg.Fields, ",")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:  base,
		project:  strings.ToUpper(strings.TrimSpace(cfg.Project)),
		method:   method,
		email:    strings.TrimSpace(cfg.Email),
		token:    token,
		client:   client,
		pageSize: pageSize,
		fields:   fields,
		now:      now,
	}, nil
}

// JQL returns the search query for filter, scoped to the project.
func (c *Client) JQL(filter string) string {
	jql := fmt.Sprintf("project = %q", c.project)
	if f := strings.TrimSpace(filter); f != "" {
		jql += " AND (" + f + ")"
	}
	return jql + " ORDER BY key ASC"
}

// FetchPage runs a JQL search. The cursor is the startAt offset.
func (c *Client) FetchPage(ctx context.Context, filter, cursor string) (adapter.Page, error) {
	startAt := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return adapter.Page{}, ir.Errorf(ir.CodeRemoteValidation, "invalid startAt cursor %q", cursor)
		}
		startAt = n
	}

	query := url.Values{}
	query.Set("jql", c.JQL(filter))
	query.Set("startAt", strconv.Itoa(startAt))
	query.Set("maxResults", strconv.Itoa(c.pageSize))
	query.Set("fields", c.fields)

	var result searchPayload
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/search?"+query.Encode(), nil, &result); err != nil {
		return adapter.Page{}, fmt.Errorf("search issues at %d: %w", startAt, err)
	}

	page := adapter.Page{}
	for _, p := range result.Issues {
		issue, err := toRemote(p)
		if err != nil {
			return adapter.Page{}, err
		}
		page.Issues = append(page.Issues, issue)
	}

	next := result.StartAt + len(result.Issues)
	if len(result.Issues) > 0 && next < result.Total {
		page.Next = strconv.Itoa(next)
	}
	// An empty page before total means the server stopped serving results.
	if len(result.Issues) == 0 && result.StartAt < result.Total {
		page.Truncated = true
	}
	return page, nil
}

func (c *Client) GetIssue(ctx context.Context, externalID string) (ir.RemoteIssue, error) {
	key, err := c.issueKey(externalID)
	if err != nil {
		return ir.RemoteIssue{}, err
	}
	var p issuePayload
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "?fields=" + url.QueryEscape(c.fields)
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return ir.RemoteIssue{}, fmt.Errorf("get issue %s: %w", key, err)
	}
	return toRemote(p)
}

// CreateIssue creates an issue in the project. issuetype defaults to Task.
// A status is applied afterwards through a transition.
func (c *Client) CreateIssue(ctx context.Context, fields ir.Fields) (ir.RemoteIssue, error) {
	status, hasStatus := fields["status"]
	rest := fields.Clone()
	delete(rest, "status")

	body, err := encodeFields(rest, false)
	if err != nil {
		return ir.RemoteIssue{}, err
	}
	if _, ok := body["summary"]; !ok {
		return ir.RemoteIssue{}, &ir.Error{Code: ir.CodeRemoteValidation, Message: "jira issues require a summary", Field: "summary"}
	}
	body["project"] = map[string]string{"key": c.project}
	if _, ok := body["issuetype"]; !ok {
		body["issuetype"] = map[string]string{"name": defaultIssueType}
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", map[string]any{"fields": body}, &created); err != nil {
		return ir.RemoteIssue{}, fmt.Errorf("create issue: %w", err)
	}

	if hasStatus && !ir.IsEmpty(status) {
		if err := c.transition(ctx, created.Key, status); err != nil {
			return ir.RemoteIssue{}, err
		}
	}
	return c.GetIssue(ctx, created.Key)
}

// UpdateIssue edits the issue. Null clears a field.
func (c *Client) UpdateIssue(ctx context.Context, externalID string, fields ir.Fields) (ir.RemoteIssue, error) {
	key, err := c.issueKey(externalID)
	if err != nil {
		return ir.RemoteIssue{}, err
	}

	status, hasStatus := fields["status"]
	rest := fields.Clone()
	delete(rest, "status")

	if len(rest) > 0 {
		body, err := encodeFields(rest, true)
		if err != nil {
			return ir.RemoteIssue{}, err
		}
		if err := c.do(ctx, http.MethodPut, "/rest/api/2/issue/"+url.PathEscape(key), map[string]any{"fields": body}, nil); err != nil {
			return ir.RemoteIssue{}, fmt.Errorf("update issue %s: %w", key, err)
		}
	}
	if hasStatus {
		if ir.IsEmpty(status) {
			return ir.RemoteIssue{}, &ir.Error{Code: ir.CodeRemoteValidation, Message: "jira status cannot be cleared", Field: "status"}
		}
		if err := c.transition(ctx, key, status); err != nil {
			return ir.RemoteIssue{}, err
		}
	}
	return c.GetIssue(ctx, key)
}

// transition moves the issue to the status named by target.
func (c *Client) transition(ctx context.Context, key string, target ir.Value) error {
	name, ok := target.(ir.String)
	if !ok {
		return &ir.Error{Code: ir.CodeRemoteValidation, Message: "status must be a string", Field: "status"}
	}

	var available struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/transitions"
	if err := c.do(ctx, http.MethodGet, path, nil, &available); err != nil {
		return fmt.Errorf("list transitions of %s: %w", key, err)
	}
	for _, tr := range available.Transitions {
		if strings.EqualFold(tr.To.Name, string(name)) {
			body := map[string]any{"transition": map[string]string{"id": tr.ID}}
			if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
				return fmt.Errorf("transition %s to %q: %w", key, name, err)
			}
			return nil
		}
	}
	return &ir.Error{
		Code:    ir.CodeRemoteValidation,
		Message: fmt.Sprintf("no transition to status %q is available", name),
		Field:   "status",
		Ref:     key,
	}
}

func (c *Client) issueKey(externalID string) (string, error) {
	key, err := refs.Normalize(externalID, ir.ProviderJira)
	if err != nil {
		return "", err
	}
	if project, _, _ := strings.Cut(key, "-"); project != c.project {
		return "", &ir.Error{
			Code:    ir.CodeInvalidReference,
			Message: fmt.Sprintf("reference belongs to project %s, not %s", project, c.project),
			Ref:     externalID,
		}
	}
	return key, nil
}

func toRemote(p issuePayload) (ir.RemoteIssue, error) {
	key, err := refs.Normalize(p.Key, ir.ProviderJira)
	if err != nil {
		return ir.RemoteIssue{}, err
	}
	fields := ir.Fields{}
	for name, raw := range p.Fields {
		v, ok := decodeField(name, raw)
		if ok && !ir.IsEmpty(v) {
			fields[name] = v
		}
	}
	return ir.RemoteIssue{ExternalID: key, Fields: fields}, nil
}

// decodeField flattens one Jira field value. Values that have no flat form
// (rich objects, fractional numbers) are left out.
func decodeField(name string, raw json.RawMessage) (ir.Value, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if name == "assignee" || name == "reporter" {
		if obj, ok := v.(map[string]any); ok {
			for _, k := range []string{"accountId", "name", "emailAddress"} {
				if s, ok := obj[k].(string); ok && s != "" {
					return ir.String(s), true
				}
			}
			return nil, false
		}
	}
	return flatten(v)
}

func flatten(v any) (ir.Value, bool) {
	switch val := v.(type) {
	case nil:
		return ir.Null{}, true
	case string:
		return ir.String(val), true
	case bool:
		return ir.Bool(val), true
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return ir.Int(n), true
		}
		if f, err := val.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return ir.Int(int64(f)), true
		}
		return nil, false
	case map[string]any:
		for _, k := range []string{"name", "value", "key"} {
			if s, ok := val[k].(string); ok {
				return ir.String(s), true
			}
		}
		return nil, false
	case []any:
		list := make(ir.List, 0, len(val))
		for _, item := range val {
			flat, ok := flatten(item)
			if !ok {
				return nil, false
			}
			if _, nested := flat.(ir.List); nested || ir.IsEmpty(flat) {
				continue
			}
			list = append(list, flat)
		}
		return list, true
	default:
		return nil, false
	}
}

// encodeFields builds the "fields" object of a create or edit body.
func encodeFields(fields ir.Fields, edit bool) (map[string]any, error) {
	body := make(map[string]any, len(fields))
	for _, name := range fields.SortedKeys() {
		v := fields[name]
		if ir.IsEmpty(v) {
			if !edit {
				continue
			}
			if name == "labels" || name == "components" {
				body[name] = []any{}
			} else {
				body[name] = nil
			}
			continue
		}
		switch {
		case name == "assignee":
			s, ok := v.(ir.String)
			if !ok {
				return nil, &ir.Error{Code: ir.CodeRemoteValidation, Message: "assignee must be an account id", Field: name}
			}
			body[name] = map[string]string{"accountId": string(s)}
		case nameFields[name]:
			s, ok := v.(ir.String)
			if !ok {
				return nil, &ir.Error{Code: ir.CodeRemoteValidation, Message: "must be a name", Field: name}
			}
			body[name] = map[string]string{"name": string(s)}
		case name == "components":
			var items []map[string]string
			for _, item := range ir.Items(v) {
				items = append(items, map[string]string{"name": ir.Format(item)})
			}
			body[name] = items
		default:
			body[name] = ir.ToAny(v)
		}
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.method == adapter.AuthBasic {
		req.SetBasicAuth(c.email, c.token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return adapter.TransportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadResponseSize))
	if err != nil {
		return adapter.TransportError("read response", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return adapter.ClassifyResponse(resp, firstAPIError(body), c.now())
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cannot parse response: %w", err)
	}
	return nil
}

// firstAPIError joins Jira's errorMessages and per-field errors.
func firstAPIError(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "unknown error"
	}
	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return text
	}
	parts := append([]string(nil), payload.ErrorMessages...)
	keys := make([]string, 0, len(payload.Errors))
	for k := range payload.Errors {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+payload.Errors[k])
	}
	if len(parts) == 0 {
		return text
	}
	return strings.Join(parts, "; ")
}

// Probe checks that the credentials can see the project.
func (c *Client) Probe(ctx context.Context) error {
	var project struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/project/"+url.PathEscape(c.project), nil, &project); err != nil {
		return fmt.Errorf("probe project: %w", err)
	}
	if !strings.EqualFold(project.Key, c.project) {
		return fmt.Errorf("probe project: expected %s, got %q", c.project, project.Key)
	}
	return nil
}
