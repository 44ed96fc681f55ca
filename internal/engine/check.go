package engine

import (
	"context"

	"github.com/roach88/issuesync/internal/ir"
)

// Prober is implemented by adapters that can verify access cheaply.
type Prober interface {
	Probe(ctx context.Context) error
}

// CheckResult summarizes a configuration check.
type CheckResult struct {
	Remote   string      `json:"remote"`
	Provider ir.Provider `json:"provider"`
	Target   string      `json:"target"`
	Profile  string      `json:"profile"`
	Rules    int         `json:"rules"`
	Probed   bool        `json:"probed"`
	// Sample is the size of the first page fetched with the remote filter.
	Sample int `json:"sample,omitempty"`
}

// Check validates that a run could start: the remote config is compiled
// (the caller did that), credentials resolve and the adapter builds. No
// network I/O happens unless probe is set; then the adapter's Probe runs
// (when it has one) and one page is fetched with the remote's filter.
func (e *Engine) Check(ctx context.Context, remote *ir.RemoteConfig, authProfile string, probe bool) (*CheckResult, error) {
	res := &CheckResult{
		Remote:   remote.Name,
		Provider: remote.Provider,
		Target:   remote.Target,
		Profile:  e.creds.ProfileFor(remote, authProfile),
		Rules:    len(remote.Mapping),
	}
	logger := e.logger.With("remote", remote.Name)

	raw, a, err := e.connect(remote, Options{AuthProfile: authProfile}, logger)
	if err != nil {
		return res, err
	}
	if !probe {
		return res, nil
	}

	if p, ok := raw.(Prober); ok {
		if err := p.Probe(ctx); err != nil {
			return res, err
		}
	}

	page, err := a.FetchPage(ctx, remote.Filter, "")
	if err != nil {
		return res, err
	}
	res.Probed = true
	res.Sample = len(page.Issues)
	return res, nil
}
