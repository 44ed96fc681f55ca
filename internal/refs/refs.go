// Package refs parses, normalizes and compares platform references.
//
// A reference is the only identity link between a local task and a remote
// issue. Nothing in this package looks at titles or other content; two
// references are the same issue exactly when their normalized strings are
// equal.
//
// Normalized grammars:
//   - jira:   PROJECT-123 (project key uppercased)
//   - github: owner/repo#123 (owner and repo lowercased)
//
// All functions are pure and do no I/O.
package refs

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/issuesync/internal/ir"
)

var (
	jiraKeyPattern    = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]+)-([0-9]+)$`)
	githubRefPattern  = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)/([A-Za-z0-9._-]+)#([0-9]+)$`)
	githubPathPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(?:issues|pull)/([0-9]+)/?$`)
	jiraPathPattern   = regexp.MustCompile(`/browse/([^/?#]+)/?$`)
)

// Providers returns the supported providers in stable order.
func Providers() []ir.Provider {
	return []ir.Provider{ir.ProviderGitHub, ir.ProviderJira}
}

// ValidProvider reports whether p is a supported provider.
func ValidProvider(p ir.Provider) bool {
	switch p {
	case ir.ProviderJira, ir.ProviderGitHub:
		return true
	default:
		return false
	}
}

// Normalize strips a known prefix or browse URL from raw and validates the
// provider grammar. The result is the canonical external id.
func Normalize(raw string, provider ir.Provider) (string, error) {
	if !ValidProvider(provider) {
		return "", &ir.Error{
			Code:    ir.CodeInvalidReference,
			Message: "unknown provider " + strconv.Quote(string(provider)),
			Ref:     raw,
		}
	}

	s := strings.TrimSpace(raw)
	s = stripPrefix(s, provider)

	switch provider {
	case ir.ProviderJira:
		return normalizeJira(raw, s)
	default:
		return normalizeGitHub(raw, s)
	}
}

// Parse splits a prefix-qualified reference ("github:o/r#1", "jira:PROJ-5")
// and normalizes its id.
func Parse(raw string) (ir.ReferenceEntry, error) {
	s := strings.TrimSpace(raw)
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return ir.ReferenceEntry{}, invalid(raw, "missing provider prefix")
	}
	provider := ir.Provider(strings.ToLower(prefix))
	if !ValidProvider(provider) {
		return ir.ReferenceEntry{}, invalid(raw, "unknown provider "+strconv.Quote(prefix))
	}
	id, err := Normalize(rest, provider)
	if err != nil {
		return ir.ReferenceEntry{}, err
	}
	return ir.ReferenceEntry{Provider: provider, ExternalID: id}, nil
}

// Match reports whether task holds a reference for provider that equals the
// issue's external id after normalization. There is no fallback.
func Match(task ir.Task, provider ir.Provider, issue ir.RemoteIssue) bool {
	ref, ok := task.Reference(provider)
	if !ok {
		return false
	}
	local, err := Normalize(ref.ExternalID, provider)
	if err != nil {
		return false
	}
	remote, err := Normalize(issue.ExternalID, provider)
	if err != nil {
		return false
	}
	return local == remote
}

// Equal reports whether two raw ids name the same issue for provider.
// Invalid ids are never equal to anything.
func Equal(a, b string, provider ir.Provider) bool {
	na, err := Normalize(a, provider)
	if err != nil {
		return false
	}
	nb, err := Normalize(b, provider)
	if err != nil {
		return false
	}
	return na == nb
}

func stripPrefix(s string, provider ir.Provider) string {
	p := string(provider) + ":"
	if len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
		return strings.TrimSpace(s[len(p):])
	}
	return s
}

func normalizeJira(raw, s string) (string, error) {
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", invalid(raw, "malformed URL")
		}
		m := jiraPathPattern.FindStringSubmatch(u.Path)
		if m == nil {
			return "", invalid(raw, "URL is not a browse link")
		}
		s = m[1]
	}
	m := jiraKeyPattern.FindStringSubmatch(s)
	if m == nil {
		return "", invalid(raw, "expected PROJECT-123")
	}
	n, err := trimIssueNumber(m[2])
	if err != nil {
		return "", invalid(raw, err.Error())
	}
	return strings.ToUpper(m[1]) + "-" + n, nil
}

func normalizeGitHub(raw, s string) (string, error) {
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", invalid(raw, "malformed URL")
		}
		if !strings.EqualFold(u.Host, "github.com") && !strings.EqualFold(u.Host, "www.github.com") {
			return "", invalid(raw, "URL host is not github.com")
		}
		m := githubPathPattern.FindStringSubmatch(u.Path)
		if m == nil {
			return "", invalid(raw, "URL is not an issue link")
		}
		s = m[1] + "/" + m[2] + "#" + m[3]
	}
	m := githubRefPattern.FindStringSubmatch(s)
	if m == nil {
		return "", invalid(raw, "expected owner/repo#123")
	}
	n, err := trimIssueNumber(m[3])
	if err != nil {
		return "", invalid(raw, err.Error())
	}
	return strings.ToLower(m[1]) + "/" + strings.ToLower(m[2]) + "#" + n, nil
}

// trimIssueNumber drops leading zeros so "PROJ-05" and "PROJ-5" are one issue.
func trimIssueNumber(digits string) (string, error) {
	n, err := strconv.ParseUint(digits, 10, 63)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", errZeroIssue
	}
	return strconv.FormatUint(n, 10), nil
}

type refError string

func (e refError) Error() string { return string(e) }

const errZeroIssue = refError("issue number must be positive")

func invalid(raw, msg string) error {
	return &ir.Error{
		Code:    ir.CodeInvalidReference,
		Message: "invalid reference " + strconv.Quote(raw) + ": " + msg,
		Ref:     raw,
	}
}
