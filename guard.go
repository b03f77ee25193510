package beankit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Guard is a pass/fail check that can short-circuit a call before its body
// runs. Check returns nil to pass, or the exact Response the caller should
// receive; the executor returns a failing guard's response verbatim.
//
// Guards in the pre-auth position run before identity acquisition and always
// observe an absent identity; guards in the post-auth position may read
// CallContext.Identity. Evaluation is strictly sequential in declared order
// and the first failure stops everything behind it: later guards,
// interceptors, and the call body never execute.
type Guard interface {
	Check(ctx context.Context, call *CallContext) *Response
}

// GuardFunc adapts a function to the Guard interface.
type GuardFunc func(ctx context.Context, call *CallContext) *Response

func (f GuardFunc) Check(ctx context.Context, call *CallContext) *Response {
	return f(ctx, call)
}

// RoleGuard passes when the caller's role set intersects the required set;
// holding any one of the roles is enough. It fails with an
// authorization-denied response when no role matches, and also when no
// identity is present at all, which is why RoleGuard belongs in the
// post-auth position.
func RoleGuard(roles ...string) Guard {
	return &roleGuard{roles: roles}
}

type roleGuard struct {
	roles []string
}

func (g *roleGuard) Check(_ context.Context, call *CallContext) *Response {
	id, ok := call.Identity()
	if !ok {
		return Forbidden("authentication required")
	}
	for _, have := range id.Roles() {
		for _, want := range g.roles {
			if have == want {
				return nil
			}
		}
	}
	return Forbidden(fmt.Sprintf("requires one of roles: %s", strings.Join(g.roles, ", ")))
}

// Scope classifies what a rate-limit bucket is keyed by.
type Scope int

const (
	// ScopeGlobal shares one bucket across all callers.
	ScopeGlobal Scope = iota

	// ScopePerSubject keys the bucket by the authenticated subject. Before
	// identity acquisition this falls back to the network origin.
	ScopePerSubject

	// ScopePerOrigin keys the bucket by the network origin.
	ScopePerOrigin
)

// RateLimitGuard passes while the classified token bucket has capacity and
// fails with a throttled response once it is empty. Bucket capacity is max
// tokens refilled continuously over window.
func RateLimitGuard(limiter RateLimiter, scope Scope, max int, window time.Duration) Guard {
	return &rateLimitGuard{limiter: limiter, scope: scope, max: max, window: window}
}

type rateLimitGuard struct {
	limiter RateLimiter
	scope   Scope
	max     int
	window  time.Duration
}

func (g *rateLimitGuard) Check(_ context.Context, call *CallContext) *Response {
	if g.limiter.CheckAndConsume(g.key(call), g.max, g.window) {
		return nil
	}
	return TooManyRequests("rate limit exceeded")
}

func (g *rateLimitGuard) key(call *CallContext) string {
	switch g.scope {
	case ScopePerSubject:
		if id, ok := call.Identity(); ok {
			return "sub:" + id.Subject()
		}
		return "origin:" + call.Origin
	case ScopePerOrigin:
		return "origin:" + call.Origin
	default:
		return "global"
	}
}
