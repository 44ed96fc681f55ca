package cli

import (
	"net/http"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/adapter/github"
	"github.com/roach88/issuesync/internal/adapter/jira"
	"github.com/roach88/issuesync/internal/engine"
	"github.com/roach88/issuesync/internal/ir"
)

// NewAdapterFactory builds GitHub and Jira clients sharing one HTTP client.
// The auth profile's base_url overrides the GitHub API endpoint and is the
// Jira site URL.
func NewAdapterFactory(client *http.Client) engine.AdapterFactory {
	return func(remote *ir.RemoteConfig, creds adapter.Credentials) (adapter.Adapter, error) {
		switch remote.Provider {
		case ir.ProviderGitHub:
			return github.New(github.Config{
				Repo:        remote.Target,
				Token:       creds.Secret,
				APIEndpoint: creds.BaseURL,
				HTTPClient:  client,
			})
		case ir.ProviderJira:
			return jira.New(jira.Config{
				BaseURL:    creds.BaseURL,
				Project:    remote.Target,
				Method:     creds.Method,
				Email:      creds.Email,
				Token:      creds.Secret,
				HTTPClient: client,
			})
		default:
			return nil, ir.Errorf(ir.CodeConfig, "unknown provider %q", remote.Provider)
		}
	}
}
