package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{
		BaseURL:    server.URL,
		Project:    "proj",
		Method:     adapter.AuthBasic,
		Email:      "me@example.com",
		Token:      "api-token",
		HTTPClient: server.Client(),
		PageSize:   2,
	})
	require.NoError(t, err)
	return c
}

const issueFiveJSON = `{
	"key": "PROJ-5",
	"fields": {
		"summary": "Login fails",
		"description": null,
		"status": {"name": "In Progress", "id": "3"},
		"labels": ["auth", "bug"],
		"assignee": {"accountId": "abc123", "displayName": "Sam"},
		"priority": {"name": "High"},
		"customfield_10016": 5.0,
		"customfield_10020": 2.5,
		"components": [{"name": "api"}]
	}
}`

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Project: "P", Token: "t"})
	assert.Equal(t, ir.CodeConfig, ir.CodeOf(err))

	_, err = New(Config{BaseURL: "https://x.atlassian.net", Token: "t"})
	assert.Equal(t, ir.CodeConfig, ir.CodeOf(err))

	_, err = New(Config{BaseURL: "https://x.atlassian.net", Project: "P"})
	assert.Equal(t, ir.CodeAuth, ir.CodeOf(err))

	_, err = New(Config{BaseURL: "https://x.atlassian.net", Project: "P", Token: "t", Method: adapter.AuthBasic})
	assert.Equal(t, ir.CodeAuth, ir.CodeOf(err))

	c, err := New(Config{BaseURL: "https://x.atlassian.net/", Project: "P", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, adapter.AuthToken, c.method)
}

func TestJQL(t *testing.T) {
	c, err := New(Config{BaseURL: "https://x.atlassian.net", Project: "proj", Token: "t"})
	require.NoError(t, err)

	assert.Equal(t, `project = "PROJ" ORDER BY key ASC`, c.JQL(""))
	assert.Equal(t, `project = "PROJ" AND (status != Done) ORDER BY key ASC`, c.JQL("status != Done"))
}

func TestFetchPageDecodesAndPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/search", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "me@example.com", user)
		assert.Equal(t, "api-token", pass)

		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		if startAt == 0 {
			_, _ = w.Write([]byte(`{"startAt": 0, "maxResults": 2, "total": 3, "issues": [` +
				issueFiveJSON + `, {"key": "PROJ-6", "fields": {"summary": "Six"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"startAt": 2, "maxResults": 2, "total": 3, "issues": [{"key": "proj-7", "fields": {"summary": "Seven"}}]}`))
	})

	issues, err := adapter.FetchIssues(context.Background(), c, "", 0).Collect()
	require.NoError(t, err)
	require.Len(t, issues, 3)

	assert.Equal(t, "PROJ-5", issues[0].ExternalID)
	assert.Equal(t, ir.Fields{
		"summary":           ir.String("Login fails"),
		"status":            ir.String("In Progress"),
		"labels":            ir.Strings("auth", "bug"),
		"assignee":          ir.String("abc123"),
		"priority":          ir.String("High"),
		"customfield_10016": ir.Int(5),
		"components":        ir.Strings("api"),
	}, issues[0].Fields, "null and fractional fields are dropped")
	assert.Equal(t, "PROJ-7", issues[2].ExternalID)
}

func TestFetchPageServerCap(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"startAt": 0, "maxResults": 0, "total": 5000, "issues": []}`))
	})

	seq := adapter.FetchIssues(context.Background(), c, "", 0)
	issues, err := seq.Collect()
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.True(t, seq.Truncated())
}

func TestUpdateIssueEditsThenTransitions(t *testing.T) {
	var calls []string
	var editBody map[string]map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&editBody))
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/rest/api/2/issue/PROJ-5/transitions":
			_, _ = w.Write([]byte(`{"transitions": [{"id": "11", "to": {"name": "To Do"}}, {"id": "31", "to": {"name": "Done"}}]}`))
		case r.Method == http.MethodPost:
			var body map[string]map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "31", body["transition"]["id"])
			w.WriteHeader(http.StatusNoContent)
		default:
			_, _ = w.Write([]byte(issueFiveJSON))
		}
	})

	_, err := c.UpdateIssue(context.Background(), "jira:proj-5", ir.Fields{
		"summary":  ir.String("Renamed"),
		"assignee": ir.Null{},
		"labels":   ir.Null{},
		"priority": ir.String("Low"),
		"status":   ir.String("done"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"PUT /rest/api/2/issue/PROJ-5",
		"GET /rest/api/2/issue/PROJ-5/transitions",
		"POST /rest/api/2/issue/PROJ-5/transitions",
		"GET /rest/api/2/issue/PROJ-5",
	}, calls)
	assert.Equal(t, map[string]any{
		"summary":  "Renamed",
		"assignee": nil,
		"labels":   []any{},
		"priority": map[string]any{"name": "Low"},
	}, editBody["fields"])
}

func TestUpdateIssueMissingTransition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transitions": []}`))
	})

	_, err := c.UpdateIssue(context.Background(), "PROJ-5", ir.Fields{"status": ir.String("Done")})
	require.Error(t, err)
	assert.Equal(t, ir.CodeRemoteValidation, ir.CodeOf(err))
}

func TestUpdateIssueOtherProject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	})

	_, err := c.UpdateIssue(context.Background(), "OTHER-1", ir.Fields{"summary": ir.String("x")})
	assert.Equal(t, ir.CodeInvalidReference, ir.CodeOf(err))
}

func TestCreateIssue(t *testing.T) {
	var createBody map[string]map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/rest/api/2/issue":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&createBody))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": "10005", "key": "PROJ-5"}`))
		default:
			_, _ = w.Write([]byte(issueFiveJSON))
		}
	})

	issue, err := c.CreateIssue(context.Background(), ir.Fields{
		"summary":     ir.String("Login fails"),
		"description": ir.Null{},
		"labels":      ir.Strings("auth"),
	})
	require.NoError(t, err)
	assert.Equal(t, "PROJ-5", issue.ExternalID)
	assert.Equal(t, map[string]any{
		"summary":   "Login fails",
		"labels":    []any{"auth"},
		"project":   map[string]any{"key": "PROJ"},
		"issuetype": map[string]any{"name": "Task"},
	}, createBody["fields"])
}

func TestErrorMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages": ["bad request"], "errors": {"summary": "required"}}`))
	})

	_, err := c.GetIssue(context.Background(), "PROJ-1")
	require.Error(t, err)
	assert.Equal(t, ir.CodeRemoteValidation, ir.CodeOf(err))
	assert.Contains(t, err.Error(), "bad request; summary: required")
}

func TestRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetIssue(context.Background(), "PROJ-1")
	assert.Equal(t, ir.CodeRateLimited, ir.CodeOf(err))
}

func TestProbe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/project/PROJ" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"key": "PROJ", "name": "Project"}`))
	})
	require.NoError(t, c.Probe(context.Background()))
}

func TestProbeUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := c.Probe(context.Background())
	assert.Equal(t, ir.CodeAuth, ir.CodeOf(err))
}
