// Package github implements adapter.Adapter on the GitHub REST v3 issues API.
//
// Remote field names: title, body, state (open|closed), labels (list of
// names), assignees (list of logins), milestone (title, read-only).
// Pull requests returned by the issues endpoint are skipped.
package github

import (
	"bytes"
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

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/refs"
)

const (
	defaultAPIEndpoint  = "https://api.github.com"
	maxReadResponseSize = 8 << 20
	issuesPerPage       = 100
)

// HTTPClient is the subset of *http.Client the adapter uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	// Repo is "owner/repo".
	Repo        string
	Token       string
	APIEndpoint string
	HTTPClient  HTTPClient
	PageSize    int
	Now         func() time.Time
}

// Client talks to one repository.
type Client struct {
	owner       string
	repo        string
	token       string
	apiEndpoint string
	client      HTTPClient
	pageSize    int
	now         func() time.Time
}

var _ adapter.Adapter = (*Client)(nil)

type issuePayload struct {
	Number    int            `json:"number"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	State     string         `json:"state"`
	Labels    []labelPayload `json:"labels"`
	Assignees []userPayload  `json:"assignees"`
	Milestone *struct {
		Title string `json:"title"`
	} `json:"milestone"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

type labelPayload struct {
	Name string `json:"name"`
}

type userPayload struct {
	Login string `json:"login"`
}

// writableFields are the fields CreateIssue and UpdateIssue accept.
var writableFields = map[string]bool{
	"title":     true,
	"body":      true,
	"state":     true,
	"labels":    true,
	"assignees": true,
}

// New validates cfg and returns a client. It does no I/O.
func New(cfg Config) (*Client, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(cfg.Repo), "/")
	if !ok || owner == "" || repo == "" {
		return nil, ir.Errorf(ir.CodeConfig, "github repository must be owner/repo, got %q", cfg.Repo)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ir.Errorf(ir.CodeAuth, "github auth token is required")
	}

	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > issuesPerPage {
		pageSize = issuesPerPage
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		owner:       strings.ToLower(owner),
		repo:        strings.ToLower(repo),
		token:       token,
		apiEndpoint: strings.TrimRight(endpoint, "/"),
		client:      client,
		pageSize:    pageSize,
		now:         now,
	}, nil
}

// FetchPage lists issues of every state. filter is a URL query string merged
// into the request, e.g. "labels=bug&assignee=octocat". The cursor is the
// page number.
func (c *Client) FetchPage(ctx context.Context, filter, cursor string) (adapter.Page, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return adapter.Page{}, ir.Errorf(ir.CodeRemoteValidation, "invalid page cursor %q", cursor)
		}
		page = n
	}

	query, err := url.ParseQuery(strings.TrimSpace(filter))
	if err != nil {
		return adapter.Page{}, ir.WrapError(ir.CodeConfig, "github filter must be a query string", err)
	}
	if query.Get("state") == "" {
		query.Set("state", "all")
	}
	query.Set("per_page", strconv.Itoa(c.pageSize))
	query.Set("page", strconv.Itoa(page))

	var payloads []issuePayload
	if err := c.do(ctx, http.MethodGet, c.repoPath()+"/issues?"+query.Encode(), nil, &payloads); err != nil {
		return adapter.Page{}, fmt.Errorf("list issues page %d: %w", page, err)
	}

	out := adapter.Page{}
	for _, p := range payloads {
		if p.PullRequest != nil {
			continue
		}
		out.Issues = append(out.Issues, c.toRemote(p))
	}
	if len(payloads) >= c.pageSize {
		out.Next = strconv.Itoa(page + 1)
	}
	return out, nil
}

func (c *Client) GetIssue(ctx context.Context, externalID string) (ir.RemoteIssue, error) {
	number, err := c.issueNumber(externalID)
	if err != nil {
		return ir.RemoteIssue{}, err
	}

	var p issuePayload
	if err := c.do(ctx, http.MethodGet, c.repoPath()+"/issues/"+strconv.Itoa(number), nil, &p); err != nil {
		return ir.RemoteIssue{}, fmt.Errorf("get issue %d: %w", number, err)
	}
	if p.PullRequest != nil {
		return ir.RemoteIssue{}, &ir.Error{Code: ir.CodeNotFound, Message: "reference points at a pull request", Ref: externalID}
	}
	if p.Number <= 0 {
		p.Number = number
	}
	return c.toRemote(p), nil
}

// CreateIssue creates an issue. GitHub ignores state on create, so a closed
// state is applied with a follow-up update.
func (c *Client) CreateIssue(ctx context.Context, fields ir.Fields) (ir.RemoteIssue, error) {
	body, err := encodeFields(fields)
	if err != nil {
		return ir.RemoteIssue{}, err
	}
	if _, ok := body["title"]; !ok {
		return ir.RemoteIssue{}, &ir.Error{Code: ir.CodeRemoteValidation, Message: "github issues require a title", Field: "title"}
	}
	state, _ := body["state"].(string)
	delete(body, "state")

	var p issuePayload
	if err := c.do(ctx, http.MethodPost, c.repoPath()+"/issues", body, &p); err != nil {
		return ir.RemoteIssue{}, fmt.Errorf("create issue: %w", err)
	}
	created := c.toRemote(p)

	if state != "" && state != p.State {
		return c.UpdateIssue(ctx, created.ExternalID, ir.Fields{"state": ir.String(state)})
	}
	return created, nil
}

func (c *Client) UpdateIssue(ctx context.Context, externalID string, fields ir.Fields) (ir.RemoteIssue, error) {
	number, err := c.issueNumber(externalID)
	if err != nil {
		return ir.RemoteIssue{}, err
	}
	body, err := encodeFields(fields)
	if err != nil {
		return ir.RemoteIssue{}, err
	}

	var p issuePayload
	if err := c.do(ctx, http.MethodPatch, c.repoPath()+"/issues/"+strconv.Itoa(number), body, &p); err != nil {
		return ir.RemoteIssue{}, fmt.Errorf("update issue %d: %w", number, err)
	}
	return c.toRemote(p), nil
}

func (c *Client) repoPath() string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo)
}

func (c *Client) issueNumber(externalID string) (int, error) {
	id, err := refs.Normalize(externalID, ir.ProviderGitHub)
	if err != nil {
		return 0, err
	}
	repo, num, _ := strings.Cut(id, "#")
	if repo != c.owner+"/"+c.repo {
		return 0, &ir.Error{
			Code:    ir.CodeInvalidReference,
			Message: fmt.Sprintf("reference belongs to %s, not %s/%s", repo, c.owner, c.repo),
			Ref:     externalID,
		}
	}
	return strconv.Atoi(num)
}

func (c *Client) toRemote(p issuePayload) ir.RemoteIssue {
	fields := ir.Fields{
		"title": ir.String(p.Title),
		"state": ir.String(strings.ToLower(p.State)),
	}
	if p.Body != "" {
		fields["body"] = ir.String(p.Body)
	}
	if names := labelNames(p.Labels); len(names) > 0 {
		fields["labels"] = ir.Strings(names...)
	}
	if logins := assigneeLogins(p.Assignees); len(logins) > 0 {
		fields["assignees"] = ir.Strings(logins...)
	}
	if p.Milestone != nil && p.Milestone.Title != "" {
		fields["milestone"] = ir.String(p.Milestone.Title)
	}
	return ir.RemoteIssue{
		ExternalID: fmt.Sprintf("%s/%s#%d", c.owner, c.repo, p.Number),
		Fields:     fields,
	}
}

// encodeFields builds the JSON body. Null clears: "" for text, [] for lists.
func encodeFields(fields ir.Fields) (map[string]any, error) {
	body := make(map[string]any, len(fields))
	for _, k := range fields.SortedKeys() {
		if !writableFields[k] {
			return nil, &ir.Error{Code: ir.CodeRemoteValidation, Message: "github does not support writing this field", Field: k}
		}
		v := fields[k]
		switch k {
		case "labels", "assignees":
			items := []string{}
			for _, item := range ir.Items(v) {
				s, ok := item.(ir.String)
				if !ok {
					return nil, &ir.Error{Code: ir.CodeRemoteValidation, Message: "list items must be strings", Field: k}
				}
				items = append(items, string(s))
			}
			body[k] = items
		case "state":
			s, ok := v.(ir.String)
			if !ok || (s != "open" && s != "closed") {
				return nil, &ir.Error{Code: ir.CodeRemoteValidation, Message: fmt.Sprintf("state must be open or closed, got %s", ir.Format(v)), Field: k}
			}
			body[k] = string(s)
		default:
			if ir.IsEmpty(v) {
				body[k] = ""
				continue
			}
			s, ok := v.(ir.String)
			if !ok {
				return nil, &ir.Error{Code: ir.CodeRemoteValidation, Message: "must be a string", Field: k}
			}
			body[k] = string(s)
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

	req, err := http.NewRequestWithContext(ctx, method, c.apiEndpoint+path, reader)
	if err != nil {
		return fmt.Errorf("cannot build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
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

func labelNames(labels []labelPayload) []string {
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		if name := strings.TrimSpace(label.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func assigneeLogins(users []userPayload) []string {
	logins := make([]string, 0, len(users))
	for _, u := range users {
		if login := strings.TrimSpace(u.Login); login != "" {
			logins = append(logins, login)
		}
	}
	return logins
}

func firstAPIError(body []byte) string {
	bodyText := strings.TrimSpace(string(body))
	if bodyText == "" {
		return "unknown error"
	}
	var payload struct {
		Message string `json:"message"`
		Errors  []struct {
			Field   string `json:"field"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		msg := strings.TrimSpace(payload.Message)
		for _, e := range payload.Errors {
			detail := e.Message
			if detail == "" {
				detail = strings.TrimSpace(e.Field + " " + e.Code)
			}
			if detail != "" {
				msg += "; " + detail
			}
		}
		return msg
	}
	return bodyText
}

// Probe fetches the repository to verify credentials and identity.
func (c *Client) Probe(ctx context.Context) error {
	var repo struct {
		FullName string `json:"full_name"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath(), nil, &repo); err != nil {
		return fmt.Errorf("probe repository: %w", err)
	}
	if !strings.EqualFold(repo.FullName, c.owner+"/"+c.repo) {
		return errors.New("probe repository: expected " + c.owner + "/" + c.repo + ", got " + strconv.Quote(repo.FullName))
	}
	return nil
}
