package beankit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pipeline is the type-erased face of a component: anything the transport
// adapters can execute against an inbound call.
type Pipeline interface {
	Name() string
	Execute(ctx context.Context, ex *Executor, call *CallContext) *Response
}

// Executor bundles the startup-time collaborators a pipeline run reads: the
// resolved Registry, the configuration store, the identity provider, and the
// logger. One Executor serves all components and all concurrent calls; it
// holds no per-call state.
type Executor struct {
	Registry *Registry
	Config   Config
	Identity IdentityProvider
	Log      *zap.Logger
}

// NewExecutor creates an Executor over a resolved registry with a no-op
// logger. Set Config, Identity, and Log directly as needed.
func NewExecutor(reg *Registry) *Executor {
	return &Executor{Registry: reg, Log: zap.NewNop()}
}

type fieldBinding struct {
	name  string
	index []int
	key   reflect.Type
}

type configBinding struct {
	name     string
	index    []int
	key      string
	kind     ConfigKind
	required bool
}

type identityBinding struct {
	index    []int // nil for call-level bindings
	optional bool
}

// Component describes a request-scoped unit of work over an instance type T.
// The descriptor is assembled once with the builder methods and is immutable
// during execution; a fresh *T is constructed for every call.
//
// Builder methods validate bindings against T by reflection and panic on
// misuse (unknown field, unsupported field type). There is no public way to
// reach execution with a malformed descriptor.
type Component[T any] struct {
	name     string
	typ      reflect.Type
	inject   []fieldBinding
	identity *identityBinding
	configs  []configBinding
	pre      []Guard
	post     []Guard
	around   []Interceptor
	body     func(ctx context.Context, inst *T, call *CallContext) (any, error)
}

// NewComponent starts a component descriptor for struct type T.
func NewComponent[T any](name string) *Component[T] {
	typ := KeyOf[T]()
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("beankit: component type must be a struct, got %v", typ))
	}
	return &Component[T]{name: name, typ: typ}
}

// Name returns the component's name.
func (c *Component[T]) Name() string { return c.name }

// Inject binds struct fields to registry singletons by the field's own type.
// Injection is O(1) per field: the shared singleton is assigned, never
// copied.
func (c *Component[T]) Inject(fields ...string) *Component[T] {
	for _, name := range fields {
		f := c.field(name)
		c.inject = append(c.inject, fieldBinding{name: name, index: f.Index, key: f.Type})
	}
	return c
}

// Identity declares a call-level identity requirement. When optional is
// false, a call without a valid identity is rejected before construction;
// when true, absence simply leaves CallContext.Identity empty.
func (c *Component[T]) Identity(optional bool) *Component[T] {
	c.identity = &identityBinding{optional: optional}
	return c
}

// IdentityField declares a struct-level identity requirement bound to the
// named field, which must be of type Identity.
func (c *Component[T]) IdentityField(field string, optional bool) *Component[T] {
	f := c.field(field)
	if f.Type != KeyOf[Identity]() {
		panic(fmt.Sprintf("beankit: identity field %q of %v must be of type beankit.Identity", field, c.typ))
	}
	c.identity = &identityBinding{index: f.Index, optional: optional}
	return c
}

// Config binds a struct field to a configuration key. The expected value kind
// is derived from the field type (string, int, bool, or time.Duration). A
// missing required key fails the call loudly; a missing optional key leaves
// the field at its zero value.
func (c *Component[T]) Config(field, key string, required bool) *Component[T] {
	f := c.field(field)
	kind, ok := kindForType(f.Type)
	if !ok {
		panic(fmt.Sprintf("beankit: config field %q of %v has unsupported type %v", field, c.typ, f.Type))
	}
	c.configs = append(c.configs, configBinding{name: field, index: f.Index, key: key, kind: kind, required: required})
	return c
}

// PreGuard appends guards that run before identity acquisition.
func (c *Component[T]) PreGuard(guards ...Guard) *Component[T] {
	c.pre = append(c.pre, guards...)
	return c
}

// PostGuard appends guards that run after identity acquisition.
func (c *Component[T]) PostGuard(guards ...Guard) *Component[T] {
	c.post = append(c.post, guards...)
	return c
}

// Intercept appends interceptors; the first appended is outermost.
func (c *Component[T]) Intercept(interceptors ...Interceptor) *Component[T] {
	c.around = append(c.around, interceptors...)
	return c
}

// Body sets the call body. The body receives the freshly constructed,
// injected instance. Returning a *Response passes it to the caller as-is;
// any other value is wrapped in an OK response.
func (c *Component[T]) Body(fn func(ctx context.Context, inst *T, call *CallContext) (any, error)) *Component[T] {
	c.body = fn
	return c
}

func (c *Component[T]) field(name string) reflect.StructField {
	f, ok := c.typ.FieldByName(name)
	if !ok {
		panic(fmt.Sprintf("beankit: %v has no field %q", c.typ, name))
	}
	return f
}

// Validate checks the descriptor against an executor's registry and config:
// every injected key must be resolved, every required config key present, and
// a body must be set. Run it during assembly so component wiring failures
// surface at startup next to the bean graph report rather than on the first
// call.
func (c *Component[T]) Validate(ex *Executor) error {
	var errs error
	for _, b := range c.inject {
		if !ex.Registry.Has(b.key) {
			errs = multierr.Append(errs, &MissingDependencyError{Bean: c.typ, Missing: b.key})
		}
	}
	for _, b := range c.configs {
		if !b.required {
			continue
		}
		if _, err := requiredConfigValue(ex.Config, c.name, b.key, b.kind); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if c.body == nil {
		errs = multierr.Append(errs, fmt.Errorf("component %q has no body", c.name))
	}
	return errs
}

// Execute runs the full pipeline for one call: pre-auth guards, identity
// acquisition, construction (field injection, then config resolution),
// post-auth guards, and the interceptor chain around the body.
//
// The first failing guard's response is returned verbatim and nothing behind
// it runs. Body errors are logged and converted to a generic failure response
// at this boundary; a body panic is caught by the safety net the same way and
// never crashes the process. Finalizers registered on the call run on every
// exit path, including guard rejection, cancellation, and panic.
func (c *Component[T]) Execute(ctx context.Context, ex *Executor, call *CallContext) (resp *Response) {
	log := ex.Log
	if log == nil {
		log = zap.NewNop()
	}

	defer call.finish()
	defer func() {
		if p := recover(); p != nil {
			log.Error("panic during call",
				zap.String("component", c.name),
				zap.Any("panic", p))
			resp = Failure("internal error")
		}
	}()

	// Phase 1: pre-auth guards. No identity is available here.
	for _, g := range c.pre {
		if r := g.Check(ctx, call); r != nil {
			return r
		}
	}
	if err := ctx.Err(); err != nil {
		return Failure("call cancelled")
	}

	// Phase 2: identity acquisition.
	if c.identity != nil {
		if r := c.acquireIdentity(ctx, ex, call, log); r != nil {
			return r
		}
	}

	// Phase 3: construction and field injection. Singletons are shared
	// handles; assignment never deep-copies.
	inst := new(T)
	v := reflect.ValueOf(inst).Elem()
	for _, b := range c.inject {
		v.FieldByIndex(b.index).Set(reflect.ValueOf(ex.Registry.Get(b.key)))
	}
	if c.identity != nil && c.identity.index != nil {
		if id, ok := call.Identity(); ok {
			v.FieldByIndex(c.identity.index).Set(reflect.ValueOf(id))
		}
	}

	// Phase 4: config field resolution. Missing required keys fail loudly.
	for _, b := range c.configs {
		val, ok := lookupConfig(ex.Config, b.key, b.kind)
		if !ok {
			if !b.required {
				continue
			}
			log.Error("missing required config key",
				zap.String("component", c.name),
				zap.String("key", b.key),
				zap.String("env", EnvVarName(b.key)))
			return Failure(fmt.Sprintf("missing required config key %q (env %s)", b.key, EnvVarName(b.key)))
		}
		v.FieldByIndex(b.index).Set(reflect.ValueOf(val))
	}

	// Phase 5: post-auth guards.
	for _, g := range c.post {
		if r := g.Check(ctx, call); r != nil {
			return r
		}
	}
	if err := ctx.Err(); err != nil {
		return Failure("call cancelled")
	}

	// Phases 6-7: interceptor chain around the body.
	inv := &Invocation{Component: c.name, Call: call, Log: log}
	result, err := runChain(ctx, inv, c.around, func() (any, error) {
		return c.body(ctx, inst, call)
	})
	if err != nil {
		log.Error("call body failed",
			zap.String("component", c.name),
			zap.Error(err))
		return Failure("internal error")
	}
	if r, ok := result.(*Response); ok {
		return r
	}
	return OK(result)
}

func (c *Component[T]) acquireIdentity(ctx context.Context, ex *Executor, call *CallContext, log *zap.Logger) *Response {
	if ex.Identity == nil {
		if c.identity.optional {
			return nil
		}
		return Unauthorized("identity required")
	}
	id, err := ex.Identity.Acquire(ctx, call)
	if err != nil {
		if c.identity.optional {
			return nil
		}
		reason := "identity required"
		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) {
			reason = acqErr.Reason
		}
		log.Warn("identity acquisition failed",
			zap.String("component", c.name),
			zap.Error(err))
		return Unauthorized(reason)
	}
	if id == nil {
		if c.identity.optional {
			return nil
		}
		return Unauthorized("identity required")
	}
	call.setIdentity(id)
	return nil
}

func lookupConfig(cfg Config, key string, kind ConfigKind) (any, bool) {
	if cfg == nil {
		return nil, false
	}
	return cfg.Lookup(key, kind)
}

var durationType = reflect.TypeOf(time.Duration(0))

// kindForType maps a struct field type to the config kind it is populated
// from. time.Duration is checked before the int kinds it aliases.
func kindForType(t reflect.Type) (ConfigKind, bool) {
	switch {
	case t == durationType:
		return DurationValue, true
	case t.Kind() == reflect.String:
		return StringValue, true
	case t.Kind() == reflect.Int:
		return IntValue, true
	case t.Kind() == reflect.Bool:
		return BoolValue, true
	}
	return 0, false
}
