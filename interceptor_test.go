package beankit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func tracingInterceptor(events *[]string, name string) Interceptor {
	return InterceptorFunc(func(_ context.Context, _ *Invocation, next Next) (any, error) {
		*events = append(*events, name+"-enter")
		result, err := next()
		*events = append(*events, name+"-exit")
		return result, err
	})
}

func TestInterceptors_NestingOrder(t *testing.T) {
	var events []string
	inv := &Invocation{Component: "x", Call: NewCallContext("/x"), Log: zap.NewNop()}

	result, err := runChain(context.Background(), inv, []Interceptor{
		tracingInterceptor(&events, "a"),
		tracingInterceptor(&events, "b"),
		tracingInterceptor(&events, "c"),
	}, func() (any, error) {
		events = append(events, "body")
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, []string{"a-enter", "b-enter", "c-enter", "body", "c-exit", "b-exit", "a-exit"}, events)
}

func TestInterceptors_SuppressBody(t *testing.T) {
	var bodyRan bool
	inv := &Invocation{Component: "x", Call: NewCallContext("/x"), Log: zap.NewNop()}

	result, err := runChain(context.Background(), inv, []Interceptor{
		InterceptorFunc(func(_ context.Context, _ *Invocation, _ Next) (any, error) {
			return "short-circuited", nil
		}),
	}, func() (any, error) {
		bodyRan = true
		return nil, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "short-circuited", result)
	assert.False(t, bodyRan)
}

func TestLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	inv := &Invocation{Component: "users.list", Call: NewCallContext("/users"), Log: zap.New(core)}

	_, err := runChain(context.Background(), inv, []Interceptor{Logged()}, func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "call started", logs.All()[0].Message)
	assert.Equal(t, "call finished", logs.All()[1].Message)

	_, err = runChain(context.Background(), inv, []Interceptor{Logged()}, func() (any, error) {
		return nil, fmt.Errorf("broken")
	})
	require.Error(t, err)
	assert.Equal(t, "call failed", logs.All()[logs.Len()-1].Message)
}

func TestTimed(t *testing.T) {
	t.Run("zero threshold logs every call", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		inv := &Invocation{Component: "x", Call: NewCallContext("/x"), Log: zap.New(core)}

		_, err := runChain(context.Background(), inv, []Interceptor{Timed(0)}, func() (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "call timed", logs.All()[0].Message)
	})

	t.Run("fast calls below threshold stay quiet", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		inv := &Invocation{Component: "x", Call: NewCallContext("/x"), Log: zap.New(core)}

		_, err := runChain(context.Background(), inv, []Interceptor{Timed(time.Hour)}, func() (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 0, logs.Len())
	})
}

func TestCachedCalls(t *testing.T) {
	nop := zap.NewNop()

	t.Run("hit suppresses the body", func(t *testing.T) {
		cache := NewResponseCache()
		inv := &Invocation{Component: "users.list", Call: NewCallContext("/users"), Log: nop}
		ic := []Interceptor{CachedCalls(cache, time.Minute, "")}

		var bodyRuns int
		body := func() (any, error) {
			bodyRuns++
			return "payload", nil
		}

		for i := 0; i < 3; i++ {
			result, err := runChain(context.Background(), inv, ic, body)
			require.NoError(t, err)
			assert.Equal(t, "payload", result)
		}
		assert.Equal(t, 1, bodyRuns)
	})

	t.Run("params and subject partition the key", func(t *testing.T) {
		cache := NewResponseCache()
		ic := []Interceptor{CachedCalls(cache, time.Minute, "")}

		var bodyRuns int
		body := func() (any, error) {
			bodyRuns++
			return bodyRuns, nil
		}

		callFor := func(id, sub string) *Invocation {
			call := NewCallContext("/users")
			call.Params["id"] = id
			if sub != "" {
				call.setIdentity(&TokenIdentity{Sub: sub})
			}
			return &Invocation{Component: "users.get", Call: call, Log: nop}
		}

		runChain(context.Background(), callFor("1", "alice"), ic, body)
		runChain(context.Background(), callFor("2", "alice"), ic, body)
		runChain(context.Background(), callFor("1", "bob"), ic, body)
		runChain(context.Background(), callFor("1", "alice"), ic, body)

		// Only the last call repeats a key.
		assert.Equal(t, 3, bodyRuns)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		cache := NewResponseCache()
		inv := &Invocation{Component: "x", Call: NewCallContext("/x"), Log: nop}
		ic := []Interceptor{CachedCalls(cache, time.Minute, "")}

		var bodyRuns int
		body := func() (any, error) {
			bodyRuns++
			return nil, fmt.Errorf("attempt %d", bodyRuns)
		}

		_, err := runChain(context.Background(), inv, ic, body)
		require.Error(t, err)
		_, err = runChain(context.Background(), inv, ic, body)
		require.EqualError(t, err, "attempt 2")
		assert.Equal(t, 0, cache.Len())
	})

	t.Run("expired entries refill", func(t *testing.T) {
		cache := NewResponseCache()
		at := time.Unix(1000, 0)
		cache.now = func() time.Time { return at }

		inv := &Invocation{Component: "x", Call: NewCallContext("/x"), Log: nop}
		ic := []Interceptor{CachedCalls(cache, 30*time.Second, "")}

		var bodyRuns int
		body := func() (any, error) {
			bodyRuns++
			return bodyRuns, nil
		}

		runChain(context.Background(), inv, ic, body)
		runChain(context.Background(), inv, ic, body)
		assert.Equal(t, 1, bodyRuns)

		at = at.Add(31 * time.Second)
		result, err := runChain(context.Background(), inv, ic, body)
		require.NoError(t, err)
		assert.Equal(t, 2, result)
	})

	t.Run("concurrent misses share one body run", func(t *testing.T) {
		cache := NewResponseCache()
		ic := []Interceptor{CachedCalls(cache, time.Minute, "")}

		var bodyRuns atomic.Int64
		release := make(chan struct{})
		body := func() (any, error) {
			bodyRuns.Add(1)
			<-release
			return "payload", nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inv := &Invocation{Component: "x", Call: NewCallContext("/x"), Log: nop}
				result, err := runChain(context.Background(), inv, ic, body)
				assert.NoError(t, err)
				assert.Equal(t, "payload", result)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int64(1), bodyRuns.Load())
	})
}

func TestEvicts(t *testing.T) {
	nop := zap.NewNop()
	cache := NewResponseCache()

	readInv := &Invocation{Component: "users.list", Call: NewCallContext("/users"), Log: nop}
	read := []Interceptor{CachedCalls(cache, time.Minute, "users")}

	var reads int
	readBody := func() (any, error) {
		reads++
		return reads, nil
	}

	runChain(context.Background(), readInv, read, readBody)
	runChain(context.Background(), readInv, read, readBody)
	assert.Equal(t, 1, reads)

	writeInv := &Invocation{Component: "users.create", Call: NewCallContext("/users"), Log: nop}
	write := []Interceptor{Evicts(cache, "users")}

	t.Run("failed write keeps the cache", func(t *testing.T) {
		runChain(context.Background(), writeInv, write, func() (any, error) {
			return nil, fmt.Errorf("rejected")
		})
		runChain(context.Background(), readInv, read, readBody)
		assert.Equal(t, 1, reads)
	})

	t.Run("successful write evicts the group", func(t *testing.T) {
		runChain(context.Background(), writeInv, write, func() (any, error) {
			return "created", nil
		})
		runChain(context.Background(), readInv, read, readBody)
		assert.Equal(t, 2, reads)
	})
}
