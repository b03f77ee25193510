package beankit

import (
	"context"
	"fmt"
)

// Identity is the capability guards, interceptors, and components depend on.
// Any concrete authentication result (a verified JWT, a session record, an
// API-key principal) implements this; nothing downstream of identity
// acquisition ever sees the concrete type.
type Identity interface {
	// Subject returns the stable identifier of the authenticated principal.
	Subject() string

	// Roles returns the principal's role names. Role guards test set
	// intersection against this list.
	Roles() []string

	// Email returns the principal's email address if the authentication
	// mechanism carries one.
	Email() (string, bool)

	// Claims returns the raw claims of the authentication result, or nil.
	Claims() map[string]any
}

// IdentityProvider acquires an Identity for a call. Returning (nil, nil)
// means no credentials were presented; an error means credentials were
// presented but could not be validated.
type IdentityProvider interface {
	Acquire(ctx context.Context, call *CallContext) (Identity, error)
}

// IdentityProviderFunc adapts a function to the IdentityProvider interface.
type IdentityProviderFunc func(ctx context.Context, call *CallContext) (Identity, error)

func (f IdentityProviderFunc) Acquire(ctx context.Context, call *CallContext) (Identity, error) {
	return f(ctx, call)
}

// AcquisitionError is returned by identity providers when presented
// credentials fail validation. The reason is surfaced in the unauthorized
// response body.
type AcquisitionError struct {
	Reason string
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("identity acquisition failed: %s", e.Reason)
}

// TokenIdentity is a plain Identity carrier for simple deployments and tests.
type TokenIdentity struct {
	Sub       string
	RoleList  []string
	EmailAddr string
	RawClaims map[string]any
}

func (t *TokenIdentity) Subject() string { return t.Sub }

func (t *TokenIdentity) Roles() []string { return t.RoleList }

func (t *TokenIdentity) Email() (string, bool) { return t.EmailAddr, t.EmailAddr != "" }

func (t *TokenIdentity) Claims() map[string]any { return t.RawClaims }
