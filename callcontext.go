package beankit

import (
	"strings"
	"sync"
)

// CallContext is the per-call, ephemeral view of an inbound call: transport
// headers, the target path, the network origin, and (after acquisition) the
// caller's identity. A CallContext must not outlive the call it was built
// for.
//
// Resources acquired during a call register their release through Defer; the
// executor runs every deferred finalizer when the call ends, no matter how it
// ends.
type CallContext struct {
	// Path is the target path of the call (an HTTP route, an event subject,
	// a job name).
	Path string

	// Origin identifies the network peer, e.g. the remote IP. Per-origin
	// rate limiting keys on this.
	Origin string

	// Params holds call parameters (route variables, query values).
	Params map[string]string

	headers  map[string]string
	identity Identity

	mu         sync.Mutex
	finalizers []func()
}

// NewCallContext creates an empty CallContext for the given target path.
func NewCallContext(path string) *CallContext {
	return &CallContext{
		Path:    path,
		Params:  map[string]string{},
		headers: map[string]string{},
	}
}

// SetHeader records a transport header. Names are case-insensitive.
func (c *CallContext) SetHeader(name, value string) {
	c.headers[strings.ToLower(name)] = value
}

// Header returns a transport header by case-insensitive name.
func (c *CallContext) Header(name string) (string, bool) {
	v, ok := c.headers[strings.ToLower(name)]
	return v, ok
}

// Identity returns the caller's identity once acquisition has run. Pre-auth
// guards always observe (nil, false).
func (c *CallContext) Identity() (Identity, bool) {
	return c.identity, c.identity != nil
}

func (c *CallContext) setIdentity(id Identity) {
	c.identity = id
}

// Defer registers a finalizer that is guaranteed to run when the call ends,
// regardless of whether the call succeeded, was rejected by a guard, errored,
// panicked, or was cancelled. Finalizers run in reverse registration order.
func (c *CallContext) Defer(fn func()) {
	c.mu.Lock()
	c.finalizers = append(c.finalizers, fn)
	c.mu.Unlock()
}

// finish runs the deferred finalizers. A panicking finalizer does not stop
// the ones registered before it.
func (c *CallContext) finish() {
	c.mu.Lock()
	fns := c.finalizers
	c.finalizers = nil
	c.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		func() {
			defer func() { _ = recover() }()
			fns[i]()
		}()
	}
}
