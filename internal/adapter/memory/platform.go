// Package memory is an in-memory remote platform implementing
// adapter.Adapter. It counts every call, can inject faults, and numbers
// issues sequentially so tests get deterministic external ids.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
	"github.com/roach88/issuesync/internal/refs"
)

// Op names an adapter operation for call counting and fault injection.
type Op string

const (
	OpFetch  Op = "fetch"
	OpGet    Op = "get"
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Platform is a fake issue tracker for one project or repository.
type Platform struct {
	mu       sync.Mutex
	provider ir.Provider
	target   string
	issues   map[string]ir.Fields
	order    []string
	next     int
	pageSize int
	cap      int
	calls    map[Op]int
	faults   []*fault
	// Log records mutating calls in order, e.g. "create acme/web#1".
	log []string
}

type fault struct {
	op         Op
	externalID string
	err        error
	remaining  int
}

// Option configures a Platform.
type Option func(*Platform)

// WithPageSize sets the FetchPage page size (default 50).
func WithPageSize(n int) Option {
	return func(p *Platform) { p.pageSize = n }
}

// WithResultCap simulates a server-side result cap: enumeration stops after
// n issues and flags the last page as truncated.
func WithResultCap(n int) Option {
	return func(p *Platform) { p.cap = n }
}

// New returns an empty platform. target is the jira project key or the
// github owner/repo used to mint external ids.
func New(provider ir.Provider, target string, opts ...Option) *Platform {
	p := &Platform{
		provider: provider,
		target:   target,
		issues:   make(map[string]ir.Fields),
		pageSize: 50,
		calls:    make(map[Op]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ adapter.Adapter = (*Platform)(nil)

// Seed adds an issue directly, without counting a call.
func (p *Platform) Seed(fields ir.Fields) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertLocked(fields)
}

// Put replaces an issue's fields, as if someone edited it remotely.
func (p *Platform) Put(externalID string, fields ir.Fields) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.issues[externalID]; !ok {
		p.order = append(p.order, externalID)
	}
	p.issues[externalID] = compact(fields)
}

// Issue returns a copy of an issue's fields.
func (p *Platform) Issue(externalID string) (ir.Fields, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.issues[externalID]
	return f.Clone(), ok
}

// IDs returns all external ids in creation order.
func (p *Platform) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Calls returns the number of calls made for op.
func (p *Platform) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// MutatingCalls returns the number of create and update calls.
func (p *Platform) MutatingCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[OpCreate] + p.calls[OpUpdate]
}

// Log returns the mutating calls in order.
func (p *Platform) Log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

// ResetCalls zeroes the counters and the mutation log.
func (p *Platform) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = make(map[Op]int)
	p.log = nil
}

// FailOn makes the next times calls of op fail with err. An empty
// externalID matches every issue.
func (p *Platform) FailOn(op Op, externalID string, err error, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = append(p.faults, &fault{op: op, externalID: externalID, err: err, remaining: times})
}

func (p *Platform) FetchPage(ctx context.Context, filter, cursor string) (adapter.Page, error) {
	if err := ctx.Err(); err != nil {
		return adapter.Page{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[OpFetch]++
	if err := p.faultLocked(OpFetch, ""); err != nil {
		return adapter.Page{}, err
	}

	terms, err := parseFilter(filter)
	if err != nil {
		return adapter.Page{}, err
	}

	offset := 0
	if cursor != "" {
		offset, err = strconv.Atoi(cursor)
		if err != nil || offset < 0 {
			return adapter.Page{}, ir.Errorf(ir.CodeRemoteValidation, "invalid cursor %q", cursor)
		}
	}

	var matched []string
	for _, id := range p.order {
		if matches(p.issues[id], terms) {
			matched = append(matched, id)
		}
	}

	capped := false
	if p.cap > 0 && len(matched) > p.cap {
		matched = matched[:p.cap]
		capped = true
	}

	page := adapter.Page{}
	end := min(offset+p.pageSize, len(matched))
	for _, id := range matched[min(offset, len(matched)):end] {
		page.Issues = append(page.Issues, ir.RemoteIssue{ExternalID: id, Fields: p.issues[id].Clone()})
	}
	if end < len(matched) {
		page.Next = strconv.Itoa(end)
	} else if capped {
		page.Truncated = true
	}
	return page, nil
}

func (p *Platform) GetIssue(ctx context.Context, externalID string) (ir.RemoteIssue, error) {
	if err := ctx.Err(); err != nil {
		return ir.RemoteIssue{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[OpGet]++

	id, err := refs.Normalize(externalID, p.provider)
	if err != nil {
		return ir.RemoteIssue{}, err
	}
	if err := p.faultLocked(OpGet, id); err != nil {
		return ir.RemoteIssue{}, err
	}
	fields, ok := p.issues[id]
	if !ok {
		return ir.RemoteIssue{}, &ir.Error{Code: ir.CodeNotFound, Message: "issue not found", Ref: id}
	}
	return ir.RemoteIssue{ExternalID: id, Fields: fields.Clone()}, nil
}

func (p *Platform) CreateIssue(ctx context.Context, fields ir.Fields) (ir.RemoteIssue, error) {
	if err := ctx.Err(); err != nil {
		return ir.RemoteIssue{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[OpCreate]++
	if err := p.faultLocked(OpCreate, ""); err != nil {
		return ir.RemoteIssue{}, err
	}
	id := p.insertLocked(fields)
	p.log = append(p.log, "create "+id)
	return ir.RemoteIssue{ExternalID: id, Fields: p.issues[id].Clone()}, nil
}

func (p *Platform) UpdateIssue(ctx context.Context, externalID string, fields ir.Fields) (ir.RemoteIssue, error) {
	if err := ctx.Err(); err != nil {
		return ir.RemoteIssue{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[OpUpdate]++

	id, err := refs.Normalize(externalID, p.provider)
	if err != nil {
		return ir.RemoteIssue{}, err
	}
	if err := p.faultLocked(OpUpdate, id); err != nil {
		return ir.RemoteIssue{}, err
	}
	current, ok := p.issues[id]
	if !ok {
		return ir.RemoteIssue{}, &ir.Error{Code: ir.CodeNotFound, Message: "issue not found", Ref: id}
	}
	merged := current.Clone()
	for k, v := range fields {
		if ir.IsEmpty(v) {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	p.issues[id] = merged
	p.log = append(p.log, fmt.Sprintf("update %s %s", id, strings.Join(fields.SortedKeys(), ",")))
	return ir.RemoteIssue{ExternalID: id, Fields: merged.Clone()}, nil
}

func (p *Platform) insertLocked(fields ir.Fields) string {
	p.next++
	var id string
	if p.provider == ir.ProviderJira {
		id = fmt.Sprintf("%s-%d", p.target, p.next)
	} else {
		id = fmt.Sprintf("%s#%d", strings.ToLower(p.target), p.next)
	}
	p.issues[id] = compact(fields)
	p.order = append(p.order, id)
	return id
}

func (p *Platform) faultLocked(op Op, externalID string) error {
	for i, f := range p.faults {
		if f.op != op || (f.externalID != "" && f.externalID != externalID) {
			continue
		}
		f.remaining--
		if f.remaining <= 0 {
			p.faults = append(p.faults[:i], p.faults[i+1:]...)
		}
		return f.err
	}
	return nil
}

func compact(fields ir.Fields) ir.Fields {
	out := ir.Fields{}
	for k, v := range fields {
		if !ir.IsEmpty(v) {
			out[k] = v
		}
	}
	return out
}

type filterTerm struct {
	field string
	value string
}

// parseFilter accepts comma-separated field=value terms. A list field matches
// when it contains the value.
func parseFilter(filter string) ([]filterTerm, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, nil
	}
	var terms []filterTerm
	for _, part := range strings.Split(filter, ",") {
		field, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(field) == "" {
			return nil, ir.Errorf(ir.CodeRemoteValidation, "invalid filter term %q, expected field=value", part)
		}
		terms = append(terms, filterTerm{field: strings.TrimSpace(field), value: strings.TrimSpace(value)})
	}
	return terms, nil
}

func matches(fields ir.Fields, terms []filterTerm) bool {
	for _, term := range terms {
		found := false
		for _, item := range ir.Items(fields[term.field]) {
			if ir.Format(item) == term.value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
