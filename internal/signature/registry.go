package signature

import (
	"fmt"
	"time"

	"docparse-tracker/internal/models"
)

// Registry is an ordered identifier-to-secret mapping of known credentials.
type Registry struct {
	order   []string
	secrets map[string]string
}

// NewRegistry builds a registry from creds. Later duplicates replace the
// secret of an earlier entry without changing its position.
func NewRegistry(creds ...models.Credential) *Registry {
	r := &Registry{secrets: make(map[string]string, len(creds))}
	for _, c := range creds {
		r.Add(c)
	}
	return r
}

// Add registers or replaces a credential. Empty identifiers are ignored.
func (r *Registry) Add(c models.Credential) {
	if c.ID == "" {
		return
	}
	if _, ok := r.secrets[c.ID]; !ok {
		r.order = append(r.order, c.ID)
	}
	r.secrets[c.ID] = c.Secret
}

// Resolve looks up a credential by exact identifier.
func (r *Registry) Resolve(id string) (models.Credential, bool) {
	if r == nil || id == "" {
		return models.Credential{}, false
	}
	secret, ok := r.secrets[id]
	if !ok {
		return models.Credential{}, false
	}
	return models.Credential{ID: id, Secret: secret}, true
}

// IDs returns the registered identifiers in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SignWith signs params with the secret registered under id.
func (r *Registry) SignWith(id string, params map[string]any) (string, error) {
	cred, ok := r.Resolve(id)
	if !ok {
		return "", fmt.Errorf("resolve credential %q: %w", id, models.ErrAuthFailure)
	}
	return Sign(params, cred.Secret), nil
}

// Issue returns a copy of params stamped with a validity window and signed
// with the credential named by the appId field. Caller supplied validBegin
// and validTime win over the defaults.
func (r *Registry) Issue(params map[string]any, now time.Time, ttl time.Duration) (map[string]any, error) {
	out := make(map[string]any, len(params)+3)
	out["validBegin"] = now.Unix()
	out["validTime"] = int64(ttl / time.Second)
	for k, v := range params {
		out[k] = v
	}
	id, _ := out["appId"].(string)
	sig, err := r.SignWith(id, out)
	if err != nil {
		return nil, err
	}
	out[FieldSignature] = sig
	return out, nil
}

