// Package authz implements the two pluggable authorization hooks consulted
// at actor-load time and at every invocation.
package authz

import (
	"time"

	"wasmhost/internal/claims"
	"wasmhost/internal/invocation"
	"wasmhost/pkg/herrors"
	"wasmhost/pkg/logging"
)

// Authorizer is the process-wide pluggable policy installed via the host
// builder. A single implementation backs both hooks so there is one seam,
// not two.
type Authorizer interface {
	// CanLoad is consulted when an actor or provider is added to the host.
	CanLoad(c claims.Claims) error
	// CanInvoke is consulted on every invocation attempt.
	CanInvoke(caller claims.Claims, target invocation.Entity, operation string) error
}

// DefaultAuthorizer implements the host's default policy: CanLoad accepts
// anything within its validity window; CanInvoke enforces capability
// attestation only (the caller's declared caps must include the target
// capability-id).
type DefaultAuthorizer struct {
	// Now is overridable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// NewDefaultAuthorizer returns a DefaultAuthorizer using the real clock.
func NewDefaultAuthorizer() *DefaultAuthorizer {
	return &DefaultAuthorizer{Now: time.Now}
}

func (a *DefaultAuthorizer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// CanLoad accepts any claims whose validity window contains now.
func (a *DefaultAuthorizer) CanLoad(c claims.Claims) error {
	if err := c.Valid(a.now()); err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "can_load",
			Outcome: "denied",
			Subject: c.Subject,
			Details: err.Error(),
		})
		return herrors.Wrap(herrors.Authorization, "claims validity check failed", err)
	}
	logging.Audit(logging.AuditEvent{Action: "can_load", Outcome: "allowed", Subject: c.Subject})
	return nil
}

// CanInvoke enforces that the caller's declared capabilities include the
// target capability-id. Actor-to-actor calls are always permitted by this
// default policy; a stricter authorizer may override that.
func (a *DefaultAuthorizer) CanInvoke(caller claims.Claims, target invocation.Entity, operation string) error {
	if target.Kind == invocation.KindActor {
		logging.Audit(logging.AuditEvent{Action: "can_invoke", Outcome: "allowed", Subject: caller.Subject, Target: target.String()})
		return nil
	}
	if !caller.HasCapability(target.CapID) {
		logging.Audit(logging.AuditEvent{
			Action:  "can_invoke",
			Outcome: "denied",
			Subject: caller.Subject,
			Target:  target.String(),
			Details: "capability not attested",
		})
		return herrors.Newf(herrors.Authorization, "caller %s has not attested capability %s", caller.Subject, target.CapID)
	}
	logging.Audit(logging.AuditEvent{Action: "can_invoke", Outcome: "allowed", Subject: caller.Subject, Target: target.String()})
	return nil
}
