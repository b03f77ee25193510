package beankit

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gburgyan/go-timing"
	"go.uber.org/zap"
)

// Next invokes the remainder of the interceptor chain; the innermost Next is
// the call body itself.
type Next func() (any, error)

// Invocation carries the call-level state interceptors operate on.
type Invocation struct {
	// Component is the name of the component being executed.
	Component string

	// Call is the live call context, including identity and params.
	Call *CallContext

	// Log is the executor's logger.
	Log *zap.Logger
}

// Interceptor wraps a call body with cross-cutting behavior. Declared order
// is nesting order: the first declared interceptor is outermost. An
// interceptor that does not invoke next suppresses everything inside it,
// which is exactly how response caching skips the body on a hit.
type Interceptor interface {
	Around(ctx context.Context, inv *Invocation, next Next) (any, error)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, inv *Invocation, next Next) (any, error)

func (f InterceptorFunc) Around(ctx context.Context, inv *Invocation, next Next) (any, error) {
	return f(ctx, inv, next)
}

// runChain nests the interceptors around body, first declared outermost, and
// runs the result.
func runChain(ctx context.Context, inv *Invocation, interceptors []Interceptor, body Next) (any, error) {
	next := body
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		inner := next
		next = func() (any, error) {
			return ic.Around(ctx, inv, inner)
		}
	}
	return next()
}

// Logged returns an interceptor that logs call entry and exit, with the error
// on a failed exit.
func Logged() Interceptor {
	return InterceptorFunc(func(_ context.Context, inv *Invocation, next Next) (any, error) {
		inv.Log.Info("call started",
			zap.String("component", inv.Component),
			zap.String("path", inv.Call.Path))
		result, err := next()
		if err != nil {
			inv.Log.Error("call failed",
				zap.String("component", inv.Component),
				zap.String("path", inv.Call.Path),
				zap.Error(err))
		} else {
			inv.Log.Info("call finished",
				zap.String("component", inv.Component),
				zap.String("path", inv.Call.Path))
		}
		return result, err
	})
}

// Timed returns an interceptor that measures the wrapped call with a timing
// context and logs the elapsed time. With a non-zero threshold, calls that
// finish faster than the threshold are not logged at all.
func Timed(threshold time.Duration) Interceptor {
	return &timedInterceptor{threshold: threshold}
}

type timedInterceptor struct {
	threshold time.Duration
}

func (t *timedInterceptor) Around(ctx context.Context, inv *Invocation, next Next) (any, error) {
	_, complete := timing.Start(ctx, inv.Component)
	start := time.Now()
	result, err := next()
	complete()
	elapsed := time.Since(start)
	if elapsed >= t.threshold {
		inv.Log.Info("call timed",
			zap.String("component", inv.Component),
			zap.Duration("elapsed", elapsed))
	}
	return result, err
}

// CachedCalls returns an interceptor that caches successful call results for
// ttl, keyed by component name, call parameters, and the authenticated
// subject. A cache hit suppresses the rest of the chain and the body.
// Concurrent misses on the same key share a single body execution. Errors are
// never cached. group, when non-empty, names the entry for bulk invalidation
// via Evicts or ResponseCache.InvalidateGroup.
func CachedCalls(cache *ResponseCache, ttl time.Duration, group string) Interceptor {
	return &cacheInterceptor{cache: cache, ttl: ttl, group: group}
}

type cacheInterceptor struct {
	cache *ResponseCache
	ttl   time.Duration
	group string
}

func (c *cacheInterceptor) Around(_ context.Context, inv *Invocation, next Next) (any, error) {
	key := callKey(inv)
	if v, ok := c.cache.get(key); ok {
		return v, nil
	}
	return c.cache.fill(key, c.group, c.ttl, func() (any, error) {
		return next()
	})
}

// Evicts returns an interceptor that invalidates the named cache groups after
// the body has run successfully. Place it on mutating components so reads
// cached under the same groups never serve stale state.
func Evicts(cache *ResponseCache, groups ...string) Interceptor {
	return InterceptorFunc(func(_ context.Context, _ *Invocation, next Next) (any, error) {
		result, err := next()
		if err == nil {
			for _, g := range groups {
				cache.InvalidateGroup(g)
			}
		}
		return result, err
	})
}

// callKey builds the cache key for an invocation: component name, then the
// authenticated subject, then the call parameters in sorted order.
func callKey(inv *Invocation) string {
	b := strings.Builder{}
	b.WriteString(inv.Component)
	if id, ok := inv.Call.Identity(); ok {
		b.WriteString("//sub=")
		b.WriteString(id.Subject())
	}
	keys := make([]string, 0, len(inv.Call.Params))
	for k := range inv.Call.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("//")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(inv.Call.Params[k])
	}
	return b.String()
}
