// Package adapter defines the uniform contract the reconciler uses to talk to
// a remote issue tracker, plus the pieces shared by every platform client:
// lazy paged enumeration, HTTP status classification and retries.
//
// Platform quirks (state transitions, rich-text bodies, required fields)
// stay inside the concrete clients. Nothing outside this tree branches on
// the provider.
package adapter

import (
	"context"
	"iter"
	"strings"

	"github.com/roach88/issuesync/internal/ir"
)

// DefaultFetchLimit is the enumeration cap applied when a run does not set one.
const DefaultFetchLimit = 1000

// Adapter is the capability set consumed by the reconciler.
//
// Field maps use remote field names. In UpdateIssue a Null value clears the
// field. External ids are returned normalized.
type Adapter interface {
	// FetchPage returns one page of issues matching filter. An empty cursor
	// starts from the beginning; an empty Page.Next ends the sequence.
	FetchPage(ctx context.Context, filter, cursor string) (Page, error)
	GetIssue(ctx context.Context, externalID string) (ir.RemoteIssue, error)
	CreateIssue(ctx context.Context, fields ir.Fields) (ir.RemoteIssue, error)
	UpdateIssue(ctx context.Context, externalID string, fields ir.Fields) (ir.RemoteIssue, error)
}

// Page is one page of an enumeration.
type Page struct {
	Issues []ir.RemoteIssue
	Next   string
	// Truncated is set when the platform itself stopped returning results
	// before the end of the filter (a server-side result cap).
	Truncated bool
}

// AuthMethod selects how credentials are presented to the platform.
type AuthMethod string

const (
	AuthBasic AuthMethod = "basic"
	AuthToken AuthMethod = "token"
)

// Credentials is the resolved secret material for one auth profile.
type Credentials struct {
	Profile string
	Method  AuthMethod
	Email   string
	Secret  string
	BaseURL string
}

// String never prints the secret.
func (c Credentials) String() string {
	var b strings.Builder
	b.WriteString(c.Profile)
	b.WriteString("(")
	b.WriteString(string(c.Method))
	if c.Email != "" {
		b.WriteString(", ")
		b.WriteString(c.Email)
	}
	b.WriteString(")")
	return b.String()
}

// IssueSeq is a lazily paged enumeration with a result cap.
// A sequence can be ranged once.
type IssueSeq struct {
	ctx       context.Context
	adapter   Adapter
	filter    string
	limit     int
	truncated bool
}

// FetchIssues returns the lazy sequence of issues matching filter.
// A limit <= 0 means DefaultFetchLimit. Reaching the limit while more
// results exist, or a platform-side cap, sets Truncated instead of silently
// dropping results.
func FetchIssues(ctx context.Context, a Adapter, filter string, limit int) *IssueSeq {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	return &IssueSeq{ctx: ctx, adapter: a, filter: filter, limit: limit}
}

// All yields issues page by page. A fetch error is yielded once and ends the
// sequence.
func (s *IssueSeq) All() iter.Seq2[ir.RemoteIssue, error] {
	return func(yield func(ir.RemoteIssue, error) bool) {
		cursor := ""
		count := 0
		for {
			if err := s.ctx.Err(); err != nil {
				yield(ir.RemoteIssue{}, err)
				return
			}
			page, err := s.adapter.FetchPage(s.ctx, s.filter, cursor)
			if err != nil {
				yield(ir.RemoteIssue{}, err)
				return
			}
			for _, issue := range page.Issues {
				if count >= s.limit {
					s.truncated = true
					return
				}
				if !yield(issue, nil) {
					return
				}
				count++
			}
			if page.Truncated {
				s.truncated = true
			}
			if page.Next == "" {
				return
			}
			if count >= s.limit {
				s.truncated = true
				return
			}
			cursor = page.Next
		}
	}
}

// Collect drains the sequence.
func (s *IssueSeq) Collect() ([]ir.RemoteIssue, error) {
	var issues []ir.RemoteIssue
	for issue, err := range s.All() {
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// Truncated reports whether the enumeration stopped before the end of the
// filter. Only meaningful after the sequence has been ranged.
func (s *IssueSeq) Truncated() bool {
	return s.truncated
}
