package config

import (
	"os"

	"github.com/roach88/issuesync/internal/adapter"
	"github.com/roach88/issuesync/internal/ir"
)

// Resolver turns auth profile names into credentials.
type Resolver struct {
	home      *Home
	lookupEnv func(string) (string, bool)
}

// NewResolver creates a resolver over the home config. A nil lookupEnv
// reads the process environment.
func NewResolver(home *Home, lookupEnv func(string) (string, bool)) *Resolver {
	if home == nil {
		home = &Home{AuthProfiles: map[string]AuthProfile{}}
	}
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	return &Resolver{home: home, lookupEnv: lookupEnv}
}

// ProfileFor picks the profile for a remote: the explicit override, else
// the remote's auth_profile, else the home default_profile.
func (r *Resolver) ProfileFor(remote *ir.RemoteConfig, override string) string {
	switch {
	case override != "":
		return override
	case remote != nil && remote.AuthProfile != "":
		return remote.AuthProfile
	default:
		return r.home.DefaultProfile
	}
}

// Resolve reads the secret for a profile from the environment. Every
// failure is an AUTH_ERROR and the message never includes a secret.
func (r *Resolver) Resolve(profile string) (adapter.Credentials, error) {
	if profile == "" {
		return adapter.Credentials{}, ir.Errorf(ir.CodeAuth, "no auth profile selected")
	}
	p, ok := r.home.AuthProfiles[profile]
	if !ok {
		return adapter.Credentials{}, ir.Errorf(ir.CodeAuth, "auth profile %q not found", profile)
	}

	creds := adapter.Credentials{
		Profile: profile,
		Method:  adapter.AuthMethod(p.Method),
		Email:   p.Email,
		BaseURL: p.BaseURL,
	}
	secret, ok := r.lookupEnv(p.TokenEnv)
	if !ok || secret == "" {
		return adapter.Credentials{}, ir.Errorf(ir.CodeAuth, "auth profile %q: environment variable %s is not set", profile, p.TokenEnv)
	}
	creds.Secret = secret

	if p.EmailEnv != "" {
		email, ok := r.lookupEnv(p.EmailEnv)
		if !ok || email == "" {
			return adapter.Credentials{}, ir.Errorf(ir.CodeAuth, "auth profile %q: environment variable %s is not set", profile, p.EmailEnv)
		}
		creds.Email = email
	}
	return creds, nil
}
