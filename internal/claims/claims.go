// Package claims holds actor and provider identity: the parsed contents of
// their embedded signed tokens, plus the id-to-subject mapping the host
// callback uses to attribute guest calls.
package claims

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"wasmhost/pkg/herrors"
)

// Claims are the domain assertions carried by a signed token: identity,
// declared capabilities, and validity window.
type Claims struct {
	Subject   string
	Issuer    string
	Name      string
	NotBefore time.Time
	Expiry    time.Time
	Caps      []string
	Tags      []string
	Provider  bool
}

// HasCapability reports whether capID is among the claims' declared
// capability set.
func (c Claims) HasCapability(capID string) bool {
	for _, cap := range c.Caps {
		if cap == capID {
			return true
		}
	}
	return false
}

// yamlClaims is the shape Claims renders as for DebugYAML; it drops the
// zero-value NotBefore/Expiry fields a never-expiring actor token leaves
// empty, which read as noise in an operator-facing dump.
type yamlClaims struct {
	Subject   string   `yaml:"subject"`
	Issuer    string   `yaml:"issuer,omitempty"`
	Name      string   `yaml:"name,omitempty"`
	NotBefore string   `yaml:"not_before,omitempty"`
	Expiry    string   `yaml:"expiry,omitempty"`
	Caps      []string `yaml:"caps,omitempty"`
	Tags      []string `yaml:"tags,omitempty"`
	Provider  bool     `yaml:"provider,omitempty"`
}

// DebugYAML renders c as YAML for operator-facing diagnostics (load-time
// audit logging), mirroring CapabilityDescriptor.DebugYAML's use of the
// same library for the provider side of the same concern.
func (c Claims) DebugYAML() (string, error) {
	yc := yamlClaims{Subject: c.Subject, Issuer: c.Issuer, Name: c.Name, Caps: c.Caps, Tags: c.Tags, Provider: c.Provider}
	if !c.NotBefore.IsZero() {
		yc.NotBefore = c.NotBefore.Format(time.RFC3339)
	}
	if !c.Expiry.IsZero() {
		yc.Expiry = c.Expiry.Format(time.RFC3339)
	}
	out, err := yaml.Marshal(yc)
	if err != nil {
		return "", herrors.Wrap(herrors.Encoding, "yaml marshal claims", err)
	}
	return string(out), nil
}

// tokenClaims is the JWT payload shape read from an embedded token: sub,
// iss, nbf, exp plus the domain-specific {name, caps, tags, provider} block.
type tokenClaims struct {
	jwt.RegisteredClaims
	Name     string   `json:"name"`
	Caps     []string `json:"caps"`
	Tags     []string `json:"tags"`
	Provider bool     `json:"provider"`
}

// ParseUnverified decodes the structural contents of a JWT-compatible token
// without checking its signature — signature verification is an external
// collaborator's responsibility. Callers must
// run the result through a TokenVerifier before trusting it for
// authorization decisions.
func ParseUnverified(token string) (Claims, error) {
	var tc tokenClaims
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(token, &tc)
	if err != nil {
		return Claims{}, herrors.Wrap(herrors.TokenInvalid, "parse token", err)
	}

	c := Claims{
		Name:     tc.Name,
		Caps:     tc.Caps,
		Tags:     tc.Tags,
		Provider: tc.Provider,
	}
	if tc.Subject != "" {
		c.Subject = tc.Subject
	}
	if tc.Issuer != "" {
		c.Issuer = tc.Issuer
	}
	if tc.NotBefore != nil {
		c.NotBefore = tc.NotBefore.Time
	}
	if tc.ExpiresAt != nil {
		c.Expiry = tc.ExpiresAt.Time
	}
	return c, nil
}

// Valid reports whether c is currently within its not-before/expiry window,
// relative to now.
func (c Claims) Valid(now time.Time) error {
	if !c.NotBefore.IsZero() && now.Before(c.NotBefore) {
		return herrors.New(herrors.TokenInvalid, "token not yet valid")
	}
	if !c.Expiry.IsZero() && now.After(c.Expiry) {
		return herrors.New(herrors.TokenInvalid, "token expired")
	}
	return nil
}

// TokenVerifier is the external collaborator that checks a token's
// signature and produces validated Claims. The core never verifies
// signatures itself.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// Store holds claims keyed by actor/provider subject, plus the auxiliary
// guest-instance-id to subject mapping the host callback uses. A single
// RWMutex guards both maps; it is one of the host's locks whose fixed
// acquire order (claims -> router -> plugins -> bindings) avoids deadlock
// across concurrent lifecycle operations.
type Store struct {
	mu          sync.RWMutex
	bySubject   map[string]Claims
	byGuestID   map[uint64]string
	nextGuestID uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		bySubject: make(map[string]Claims),
		byGuestID: make(map[uint64]string),
	}
}

// Register records c under its subject and returns a freshly allocated
// guest-instance id bound to that subject. Fails if the subject is already
// registered.
func (s *Store) Register(c Claims) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySubject[c.Subject]; exists {
		return 0, herrors.Newf(herrors.Misc, "subject %s already registered", c.Subject)
	}
	s.nextGuestID++
	id := s.nextGuestID
	s.bySubject[c.Subject] = c
	s.byGuestID[id] = c.Subject
	return id, nil
}

// RegisterWithGuestID records c under its subject using a caller-supplied
// guest-instance id instead of allocating one. Hosts use this so the id a
// GuestEngine reports on every host call (its own instance id) is exactly
// the id the claims store expects in ClaimsForGuestID — there is no
// independent id space to keep in sync.
func (s *Store) RegisterWithGuestID(id uint64, c Claims) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySubject[c.Subject]; exists {
		return herrors.Newf(herrors.Misc, "subject %s already registered", c.Subject)
	}
	s.bySubject[c.Subject] = c
	s.byGuestID[id] = c.Subject
	return nil
}

// Unregister removes c's subject and every guest id mapped to it.
func (s *Store) Unregister(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bySubject, subject)
	for id, subj := range s.byGuestID {
		if subj == subject {
			delete(s.byGuestID, id)
		}
	}
}

// Lookup returns the Claims registered under subject.
func (s *Store) Lookup(subject string) (Claims, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.bySubject[subject]
	return c, ok
}

// SubjectForGuestID resolves the public key a guest-instance id was
// assigned at registration, for use by the host-import callback.
func (s *Store) SubjectForGuestID(id uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subj, ok := s.byGuestID[id]
	return subj, ok
}

// ClaimsForGuestID is a convenience combining SubjectForGuestID and Lookup.
func (s *Store) ClaimsForGuestID(id uint64) (Claims, bool) {
	subj, ok := s.SubjectForGuestID(id)
	if !ok {
		return Claims{}, false
	}
	return s.Lookup(subj)
}

// All returns a snapshot of every registered subject's claims.
func (s *Store) All() map[string]Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Claims, len(s.bySubject))
	for k, v := range s.bySubject {
		out[k] = v
	}
	return out
}
