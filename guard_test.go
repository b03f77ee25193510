package beankit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passGuard(calls *[]string, name string) Guard {
	return GuardFunc(func(_ context.Context, _ *CallContext) *Response {
		*calls = append(*calls, name)
		return nil
	})
}

func TestGuards_ShortCircuit(t *testing.T) {
	ex := NewExecutor(pipelineRegistry(t))
	denied := Forbidden("second guard says no")

	var calls []string
	comp := NewComponent[betaHandler]("guarded").
		PreGuard(
			passGuard(&calls, "g1"),
			GuardFunc(func(_ context.Context, _ *CallContext) *Response {
				calls = append(calls, "g2")
				return denied
			}),
			passGuard(&calls, "g3"),
		).
		Body(func(_ context.Context, _ *betaHandler, _ *CallContext) (any, error) {
			calls = append(calls, "body")
			return nil, nil
		})

	resp := comp.Execute(context.Background(), ex, NewCallContext("/x"))

	// The failing guard's response comes back verbatim and nothing past it runs.
	assert.Same(t, denied, resp)
	assert.Equal(t, []string{"g1", "g2"}, calls)
}

func TestRoleGuard(t *testing.T) {
	guard := RoleGuard("admin", "auditor")

	t.Run("no identity", func(t *testing.T) {
		resp := guard.Check(context.Background(), NewCallContext("/x"))
		require.NotNil(t, resp)
		assert.Equal(t, StatusForbidden, resp.Status)
		body := resp.Body.(map[string]any)
		assert.Equal(t, "authentication required", body["reason"])
	})

	t.Run("matching role passes", func(t *testing.T) {
		call := NewCallContext("/x")
		call.setIdentity(&TokenIdentity{Sub: "u-1", RoleList: []string{"user", "auditor"}})
		assert.Nil(t, guard.Check(context.Background(), call))
	})

	t.Run("no matching role", func(t *testing.T) {
		call := NewCallContext("/x")
		call.setIdentity(&TokenIdentity{Sub: "u-2", RoleList: []string{"user"}})
		resp := guard.Check(context.Background(), call)
		require.NotNil(t, resp)
		assert.Equal(t, StatusForbidden, resp.Status)
	})
}

func TestRateLimitGuard_Scopes(t *testing.T) {
	t.Run("per subject", func(t *testing.T) {
		guard := RateLimitGuard(NewMemoryRateLimiter(), ScopePerSubject, 1, time.Minute)

		alice := NewCallContext("/x")
		alice.setIdentity(&TokenIdentity{Sub: "alice"})
		bob := NewCallContext("/x")
		bob.setIdentity(&TokenIdentity{Sub: "bob"})

		assert.Nil(t, guard.Check(context.Background(), alice))
		resp := guard.Check(context.Background(), alice)
		require.NotNil(t, resp)
		assert.Equal(t, StatusTooManyRequests, resp.Status)

		// A different subject has its own budget.
		assert.Nil(t, guard.Check(context.Background(), bob))
	})

	t.Run("per origin", func(t *testing.T) {
		guard := RateLimitGuard(NewMemoryRateLimiter(), ScopePerOrigin, 1, time.Minute)

		a := NewCallContext("/x")
		a.Origin = "10.0.0.1"
		b := NewCallContext("/x")
		b.Origin = "10.0.0.2"

		assert.Nil(t, guard.Check(context.Background(), a))
		assert.NotNil(t, guard.Check(context.Background(), a))
		assert.Nil(t, guard.Check(context.Background(), b))
	})

	t.Run("global", func(t *testing.T) {
		guard := RateLimitGuard(NewMemoryRateLimiter(), ScopeGlobal, 1, time.Minute)

		a := NewCallContext("/x")
		a.Origin = "10.0.0.1"
		b := NewCallContext("/x")
		b.Origin = "10.0.0.2"

		assert.Nil(t, guard.Check(context.Background(), a))
		assert.NotNil(t, guard.Check(context.Background(), b))
	})

	t.Run("subject scope falls back to origin", func(t *testing.T) {
		guard := RateLimitGuard(NewMemoryRateLimiter(), ScopePerSubject, 1, time.Minute)

		anon := NewCallContext("/x")
		anon.Origin = "10.0.0.1"
		assert.Nil(t, guard.Check(context.Background(), anon))
		assert.NotNil(t, guard.Check(context.Background(), anon))
	})
}

func TestGuards_PipelinePhases(t *testing.T) {
	ex := NewExecutor(pipelineRegistry(t))
	ex.Identity = IdentityProviderFunc(func(_ context.Context, _ *CallContext) (Identity, error) {
		return &TokenIdentity{Sub: "u-1", RoleList: []string{"user"}}, nil
	})

	limiter := NewMemoryRateLimiter()
	comp := NewComponent[betaHandler]("admin.report").
		PreGuard(RateLimitGuard(limiter, ScopeGlobal, 2, time.Minute)).
		Identity(false).
		PostGuard(RoleGuard("admin")).
		Body(func(_ context.Context, _ *betaHandler, _ *CallContext) (any, error) {
			return "report", nil
		})

	// The pre-auth rate limit admits the first two calls, which then fail the
	// post-auth role check. The third call never reaches identity acquisition.
	for i := 0; i < 2; i++ {
		resp := comp.Execute(context.Background(), ex, NewCallContext("/admin/report"))
		assert.Equal(t, StatusForbidden, resp.Status)
	}
	resp := comp.Execute(context.Background(), ex, NewCallContext("/admin/report"))
	assert.Equal(t, StatusTooManyRequests, resp.Status)
}
