package storage

import (
	"nsmgr/internal/secret"

	"go.uber.org/zap"
)

// Credentials represents SMB authentication parameters.
type Credentials struct {
	Domain   string
	Username string
	Password string
	// Persist stores the credentials in the secret store after a successful mount.
	Persist bool
}

func (c Credentials) empty() bool {
	return c.Username == "" && c.Password == "" && c.Domain == ""
}

// CredentialsPrompt can interactively provide credentials.
type CredentialsPrompt interface {
	ShareCredentials(host, share string) (Credentials, error)
}

// CredentialsPromptFunc adapts a function to CredentialsPrompt.
type CredentialsPromptFunc func(host, share string) (Credentials, error)

func (f CredentialsPromptFunc) ShareCredentials(host, share string) (Credentials, error) {
	return f(host, share)
}

func cacheKey(host, share string) string { return host + "\x00" + share }

// shareCredentials resolves credentials for loc: URL, then session cache,
// then secret store, then prompt.
func (r *Resolver) shareCredentials(loc Location) Credentials {
	// 1) Credentials embedded in the location
	if loc.User != "" || loc.Password != "" || loc.Domain != "" {
		c := Credentials{Domain: loc.Domain, Username: loc.User, Password: loc.Password}
		r.putCached(loc.Host, loc.Share, c)
		return c
	}
	// 2) In-memory cache for this session
	if c, ok := r.cached(loc.Host, loc.Share); ok {
		return c
	}
	// 3) Keyring (if available)
	if r.secrets != nil {
		sc, found, err := r.secrets.GetShare(loc.Host, loc.Share)
		if err != nil {
			r.logger.Debug("secret store lookup failed", zap.String("host", loc.Host), zap.Error(err))
		}
		if found {
			c := Credentials{Domain: sc.Domain, Username: sc.User, Password: sc.Password}
			r.putCached(loc.Host, loc.Share, c)
			return c
		}
	}
	// 4) Finally, ask the prompt
	if r.prompt == nil {
		return Credentials{}
	}
	c, err := r.prompt.ShareCredentials(loc.Host, loc.Share)
	if err != nil {
		return Credentials{}
	}
	r.putCached(loc.Host, loc.Share, c)
	return c
}

// persistCredentials stores c after a successful mount if requested.
func (r *Resolver) persistCredentials(loc Location, c Credentials) {
	if !c.Persist || r.secrets == nil {
		return
	}
	err := r.secrets.SetShare(loc.Host, loc.Share, secret.ShareCredentials{
		Domain:   c.Domain,
		User:     c.Username,
		Password: c.Password,
	})
	if err != nil {
		r.logger.Warn("could not remember share credentials", zap.String("host", loc.Host), zap.Error(err))
	}
}

func (r *Resolver) cached(host, share string) (Credentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cache[cacheKey(host, share)]
	if !ok || c.empty() {
		return Credentials{}, false
	}
	return c, true
}

func (r *Resolver) putCached(host, share string, c Credentials) {
	r.mu.Lock()
	r.cache[cacheKey(host, share)] = c
	r.mu.Unlock()
}

// clearCached removes cached credentials after an authentication failure.
func (r *Resolver) clearCached(host, share string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(host, share))
	r.mu.Unlock()
}
