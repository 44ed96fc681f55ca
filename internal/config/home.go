package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/viper"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
)

// HomeEnv overrides the home config directory.
const HomeEnv = "ISSUESYNC_HOME"

// HomeConfigFile is the auth config file name.
const HomeConfigFile = "config.yaml"

// Home is the user-scope configuration.
type Home struct {
	AuthProfiles map[string]AuthProfile `mapstructure:"auth_profiles"`
	// DefaultProfile is used when neither the remote nor the command line
	// names a profile.
	DefaultProfile string `mapstructure:"default_profile"`
}

// AuthProfile describes how to authenticate, and where to find the secret.
//
//	auth_profiles:
//	  work:
//	    method: basic
//	    base_url: https://acme.atlassian.net
//	    email_env: JIRA_EMAIL
//	    token_env: JIRA_TOKEN
type AuthProfile struct {
	Method   string `mapstructure:"method"`
	BaseURL  string `mapstructure:"base_url"`
	Email    string `mapstructure:"email"`
	EmailEnv string `mapstructure:"email_env"`
	TokenEnv string `mapstructure:"token_env"`
}

// HomeDir returns $ISSUESYNC_HOME, else ~/.issuesync.
func HomeDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home dir: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// LoadHome reads <dir>/config.yaml. A missing file yields an empty config.
func LoadHome(dir string) (*Home, error) {
	home := &Home{AuthProfiles: map[string]AuthProfile{}}

	path := filepath.Join(dir, HomeConfigFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return home, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, ir.WrapError(ir.CodeConfig, "read "+path, err)
	}
	if err := v.Unmarshal(home); err != nil {
		return nil, ir.WrapError(ir.CodeConfig, "decode "+path, err)
	}
	if home.AuthProfiles == nil {
		home.AuthProfiles = map[string]AuthProfile{}
	}
	for name, p := range home.AuthProfiles {
		if p.Method == "" {
			p.Method = string(adapter.AuthToken)
			home.AuthProfiles[name] = p
		}
		if err := p.validate(name); err != nil {
			return nil, err
		}
	}
	return home, nil
}

// ProfileNames returns the configured profile names, sorted.
func (h *Home) ProfileNames() []string {
	names := make([]string, 0, len(h.AuthProfiles))
	for name := range h.AuthProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p AuthProfile) validate(name string) error {
	switch adapter.AuthMethod(p.Method) {
	case adapter.AuthToken:
	case adapter.AuthBasic:
		if p.EmailEnv == "" && p.Email == "" {
			return ir.Errorf(ir.CodeConfig, "auth profile %q: basic auth needs email or email_env", name)
		}
	default:
		return ir.Errorf(ir.CodeConfig, "auth profile %q: unknown method %q (want basic or token)", name, p.Method)
	}
	if p.TokenEnv == "" {
		return ir.Errorf(ir.CodeConfig, "auth profile %q: token_env is required", name)
	}
	return nil
}
