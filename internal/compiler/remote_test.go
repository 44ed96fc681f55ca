package compiler

import (
	"errors"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/issuesync/internal/ir"
)

func compileRemoteSource(t *testing.T, name, src string) (*ir.RemoteConfig, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileRemote(name, v.LookupPath(cue.MakePath(cue.Str("remotes"), cue.Str(name))))
}

func TestCompileRemoteJira(t *testing.T) {
	cfg, err := compileRemoteSource(t, "work", `
		remotes: work: {
			provider:     "jira"
			project:      "PROJ"
			auth_profile: "corp"
			filter:       "status != Done"
			mapping: {title: "summary"}
		}
	`)

	require.NoError(t, err)
	assert.Equal(t, "work", cfg.Name)
	assert.Equal(t, ir.ProviderJira, cfg.Provider)
	assert.Equal(t, "PROJ", cfg.Target)
	assert.Equal(t, "corp", cfg.AuthProfile)
	assert.Equal(t, "status != Done", cfg.Filter)
	assert.Equal(t, []ir.MappingRule{{LocalField: "title", RemoteField: "summary"}}, cfg.Mapping)
}

func TestCompileRemoteGitHub(t *testing.T) {
	cfg, err := compileRemoteSource(t, "gh", `
		remotes: gh: {
			provider: "github"
			repo:     "acme/web"
			mapping: {
				title:  "title"
				status: {field: "state", values: {Done: "closed"}}
			}
		}
	`)

	require.NoError(t, err)
	assert.Equal(t, ir.ProviderGitHub, cfg.Provider)
	assert.Equal(t, "acme/web", cfg.Target)
	assert.Empty(t, cfg.AuthProfile)
	require.Len(t, cfg.Mapping, 2)
}

func TestCompileRemoteErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"unknown provider", `remotes: r: {provider: "gitlab", repo: "a/b", mapping: {t: "t"}}`, "remotes.r.provider"},
		{"missing provider", `remotes: r: {repo: "a/b", mapping: {t: "t"}}`, "remotes.r.provider"},
		{"jira without project", `remotes: r: {provider: "jira", mapping: {t: "t"}}`, "remotes.r.project"},
		{"jira lowercase project", `remotes: r: {provider: "jira", project: "proj", mapping: {t: "t"}}`, "remotes.r.project"},
		{"jira with repo", `remotes: r: {provider: "jira", project: "P1", repo: "a/b", mapping: {t: "t"}}`, "remotes.r.repo"},
		{"github without repo", `remotes: r: {provider: "github", mapping: {t: "t"}}`, "remotes.r.repo"},
		{"github bad repo", `remotes: r: {provider: "github", repo: "acme", mapping: {t: "t"}}`, "remotes.r.repo"},
		{"github with project", `remotes: r: {provider: "github", repo: "a/b", project: "P1", mapping: {t: "t"}}`, "remotes.r.project"},
		{"unknown key", `remotes: r: {provider: "github", repo: "a/b", labels: [], mapping: {t: "t"}}`, "remotes.r.labels"},
		{"missing mapping", `remotes: r: {provider: "github", repo: "a/b"}`, "remotes.r.mapping"},
		{"bad mapping rule", `remotes: r: {provider: "github", repo: "a/b", mapping: {t: {field: "t", x: 1}}}`, "remotes.r.mapping.t.x"},
		{"filter not a string", `remotes: r: {provider: "github", repo: "a/b", filter: 3, mapping: {t: "t"}}`, "remotes.r.filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileRemoteSource(t, "r", tt.src)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "expected *CompileError, got %T", err)
			assert.Equal(t, tt.field, ce.Field)
			assert.True(t, ir.IsFatal(ir.CodeOf(err)))
		})
	}
}
