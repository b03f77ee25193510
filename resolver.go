package beankit

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolver collects bean descriptors and provided values, then turns them
// into a Registry in a single Finalize call. Registration order is free: a
// bean may depend on a key that is registered later, since ordering is
// recovered by an explicit topological sort at Finalize time.
//
// Any validation or construction failure is fatal to startup: Finalize
// returns no Registry, and the transport layer must not start. Validation
// failures are aggregated: the report names every missing dependency and
// every missing required config key, not just the first.
type Resolver struct {
	cfg        Config
	log        *zap.Logger
	sequential bool

	descriptors []*BeanDescriptor
	byKey       map[reflect.Type]*BeanDescriptor
	provided    map[reflect.Type]any
	regErrs     []error
	finalized   bool
}

// ResolverOption is a functional option for configuring a Resolver.
type ResolverOption func(*Resolver)

// WithConfig sets the configuration store constructors resolve their declared
// params through. Without it, every declared non-optional param is reported
// missing.
func WithConfig(cfg Config) ResolverOption {
	return func(r *Resolver) { r.cfg = cfg }
}

// WithLogger sets the logger used to trace resolution. Defaults to a no-op
// logger.
func WithLogger(log *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// WithSequentialResolution disables concurrent construction of independent
// async beans; everything then resolves strictly one at a time in dependency
// order. Useful when constructors share non-threadsafe startup state.
func WithSequentialResolution() ResolverOption {
	return func(r *Resolver) { r.sequential = true }
}

// NewResolver creates an empty Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		log:      zap.NewNop(),
		byKey:    map[reflect.Type]*BeanDescriptor{},
		provided: map[reflect.Type]any{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSync registers a synchronous constructor for key.
func (r *Resolver) RegisterSync(key reflect.Type, deps []reflect.Type, ctor Constructor, params ...ConfigParam) {
	r.register(KindSync, key, deps, ctor, params)
}

// RegisterAsync registers a constructor that may block on I/O. Dependents of
// key never begin construction until the constructor has returned.
func (r *Resolver) RegisterAsync(key reflect.Type, deps []reflect.Type, ctor Constructor, params ...ConfigParam) {
	r.register(KindAsync, key, deps, ctor, params)
}

// RegisterProducer registers a constructor for a type the application does
// not own (a pooled resource, an SDK client). Producers resolve like async
// constructors.
func (r *Resolver) RegisterProducer(key reflect.Type, deps []reflect.Type, ctor Constructor, params ...ConfigParam) {
	r.register(KindProducer, key, deps, ctor, params)
}

// Provide supplies an externally constructed value for key. Provided values
// satisfy dependencies like any resolved bean but have no constructor of
// their own.
func (r *Resolver) Provide(key reflect.Type, value any) {
	if r.finalized {
		panic("beankit: Provide after Finalize")
	}
	if key == nil {
		panic("beankit: Provide with nil key")
	}
	vt := reflect.TypeOf(value)
	if vt == nil || !vt.AssignableTo(key) {
		panic(fmt.Sprintf("beankit: provided value %T is not assignable to %v", value, key))
	}
	if r.taken(key) {
		r.regErrs = append(r.regErrs, &DuplicateKeyError{Key: key})
		return
	}
	r.provided[key] = value
}

// ProvideOptional behaves like Provide except that a typed nil pointer is
// silently skipped. The use case is assembly code with conditionally built
// collaborators, typically in tests.
func (r *Resolver) ProvideOptional(key reflect.Type, value any) {
	if value == nil {
		return
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return
	}
	r.Provide(key, value)
}

func (r *Resolver) register(kind BeanKind, key reflect.Type, deps []reflect.Type, ctor Constructor, params []ConfigParam) {
	if r.finalized {
		panic("beankit: register after Finalize")
	}
	if key == nil || ctor == nil {
		panic("beankit: register with nil key or constructor")
	}
	if r.taken(key) {
		r.regErrs = append(r.regErrs, &DuplicateKeyError{Key: key})
		return
	}
	d := &BeanDescriptor{
		key:    key,
		kind:   kind,
		deps:   append([]reflect.Type(nil), deps...),
		params: append([]ConfigParam(nil), params...),
		ctor:   ctor,
	}
	r.byKey[key] = d
	r.descriptors = append(r.descriptors, d)
}

func (r *Resolver) taken(key reflect.Type) bool {
	if _, ok := r.byKey[key]; ok {
		return true
	}
	_, ok := r.provided[key]
	return ok
}

// RegisterSync is the generic form of Resolver.RegisterSync; the key is
// derived from the constructor's result type.
func RegisterSync[T any](r *Resolver, deps []reflect.Type, ctor func(context.Context, *BeanContext) (T, error), params ...ConfigParam) {
	r.RegisterSync(KeyOf[T](), deps, wrapConstructor(ctor), params...)
}

// RegisterAsync is the generic form of Resolver.RegisterAsync.
func RegisterAsync[T any](r *Resolver, deps []reflect.Type, ctor func(context.Context, *BeanContext) (T, error), params ...ConfigParam) {
	r.RegisterAsync(KeyOf[T](), deps, wrapConstructor(ctor), params...)
}

// RegisterProducer is the generic form of Resolver.RegisterProducer.
func RegisterProducer[T any](r *Resolver, deps []reflect.Type, ctor func(context.Context, *BeanContext) (T, error), params ...ConfigParam) {
	r.RegisterProducer(KeyOf[T](), deps, wrapConstructor(ctor), params...)
}

// Provide is the generic form of Resolver.Provide.
func Provide[T any](r *Resolver, value T) {
	r.Provide(KeyOf[T](), value)
}

func wrapConstructor[T any](ctor func(context.Context, *BeanContext) (T, error)) Constructor {
	return func(ctx context.Context, bc *BeanContext) (any, error) {
		return ctor(ctx, bc)
	}
}

// Finalize validates the descriptor set and executes it into a Registry.
//
// The validation pass checks every dependency edge and every declared
// non-optional config param, and reports all violations together. The
// execution pass then constructs beans in an order consistent with the
// dependency partial order; independent async beans construct concurrently
// unless WithSequentialResolution was set. Each key is constructed exactly
// once and the resulting singleton is shared, identity-preserving, by all
// dependents.
func (r *Resolver) Finalize(ctx context.Context) (*Registry, error) {
	if r.finalized {
		panic("beankit: Finalize called twice")
	}
	r.finalized = true

	if err := r.validate(); err != nil {
		return nil, err
	}

	order, cyclePath := r.sort()
	if cyclePath != nil {
		return nil, &CycleError{Path: cyclePath}
	}

	res := &resolution{values: map[reflect.Type]any{}}
	kinds := map[reflect.Type]string{}
	for k, v := range r.provided {
		res.values[k] = v
		kinds[k] = "provided"
	}

	for _, layer := range r.layers(order) {
		if err := r.constructLayer(ctx, layer, res); err != nil {
			return nil, err
		}
	}
	for _, d := range r.descriptors {
		kinds[d.key] = d.kind.String()
	}

	r.log.Info("bean graph resolved",
		zap.Int("beans", len(r.descriptors)),
		zap.Int("provided", len(r.provided)))
	return &Registry{values: res.values, kinds: kinds}, nil
}

// validate collects every violation in the descriptor set: duplicate keys,
// unsatisfiable dependencies, and missing required config params.
func (r *Resolver) validate() error {
	var errs error
	for _, e := range r.regErrs {
		errs = multierr.Append(errs, e)
	}
	for _, d := range r.descriptors {
		for _, dep := range d.deps {
			if !r.taken(dep) {
				errs = multierr.Append(errs, &MissingDependencyError{Bean: d.key, Missing: dep})
			}
		}
		for _, p := range d.params {
			if p.Optional {
				continue
			}
			if _, err := requiredConfigValue(r.cfg, d.key.String(), p.Key, p.Kind); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// sort returns the descriptors in dependency order, or the full path of a
// cycle when one exists. Provided values have no incoming edges and are
// excluded from the sort.
func (r *Resolver) sort() ([]*BeanDescriptor, []reflect.Type) {
	indegree := map[reflect.Type]int{}
	dependents := map[reflect.Type][]*BeanDescriptor{}
	for _, d := range r.descriptors {
		for _, dep := range d.deps {
			if _, ok := r.byKey[dep]; ok {
				indegree[d.key]++
				dependents[dep] = append(dependents[dep], d)
			}
		}
	}

	// Kahn's algorithm, seeded in registration order for determinism.
	var queue []*BeanDescriptor
	for _, d := range r.descriptors {
		if indegree[d.key] == 0 {
			queue = append(queue, d)
		}
	}
	var order []*BeanDescriptor
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		order = append(order, d)
		for _, dep := range dependents[d.key] {
			indegree[dep.key]--
			if indegree[dep.key] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) < len(r.descriptors) {
		return nil, r.findCycle(indegree)
	}
	return order, nil
}

// findCycle extracts one full cycle from the nodes the sort could not place.
func (r *Resolver) findCycle(indegree map[reflect.Type]int) []reflect.Type {
	var start reflect.Type
	for _, d := range r.descriptors {
		if indegree[d.key] > 0 {
			start = d.key
			break
		}
	}

	// Walk dependency edges from the stuck node; within the leftover
	// subgraph every node has an unresolved dependency, so the walk must
	// revisit a node, and the revisited node closes the cycle.
	seen := map[reflect.Type]int{}
	var path []reflect.Type
	current := start
	for {
		if at, ok := seen[current]; ok {
			return append(path[at:], current)
		}
		seen[current] = len(path)
		path = append(path, current)
		d := r.byKey[current]
		for _, dep := range d.deps {
			if indegree[dep] > 0 {
				current = dep
				break
			}
		}
	}
}

// layers groups the sorted descriptors into construction waves: a descriptor
// lands one layer after the deepest of its dependencies. Members of a layer
// have no dependency relations between them.
func (r *Resolver) layers(order []*BeanDescriptor) [][]*BeanDescriptor {
	level := map[reflect.Type]int{}
	max := 0
	for _, d := range order {
		l := 0
		for _, dep := range d.deps {
			if _, ok := r.byKey[dep]; ok && level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[d.key] = l
		if l > max {
			max = l
		}
	}
	layers := make([][]*BeanDescriptor, max+1)
	for _, d := range order {
		l := level[d.key]
		layers[l] = append(layers[l], d)
	}
	return layers
}

// constructLayer runs one wave: sync constructors inline, async and producer
// constructors concurrently in an errgroup. The wave completes fully before
// the next begins, so every constructor observes all of its dependencies
// resolved.
func (r *Resolver) constructLayer(ctx context.Context, layer []*BeanDescriptor, res *resolution) error {
	var async []*BeanDescriptor
	for _, d := range layer {
		if d.kind == KindSync || r.sequential {
			if err := r.construct(ctx, d, res); err != nil {
				return err
			}
		} else {
			async = append(async, d)
		}
	}
	if len(async) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range async {
		d := d
		g.Go(func() error {
			return r.construct(gctx, d, res)
		})
	}
	return g.Wait()
}

// construct invokes one descriptor's constructor and stores the singleton.
// A constructor panic is converted to a startup-fatal error rather than
// taking down the resolving goroutine.
func (r *Resolver) construct(ctx context.Context, d *BeanDescriptor, res *resolution) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &BeanError{Message: fmt.Sprintf("constructor panicked: %v", p), Key: d.key}
		}
	}()

	bc := &BeanContext{res: res, desc: d, cfg: r.cfg}
	start := time.Now()
	value, ctorErr := d.ctor(ctx, bc)
	if ctorErr != nil {
		return &BeanError{Message: "constructing bean", Key: d.key, SourceError: ctorErr}
	}
	vt := reflect.TypeOf(value)
	if vt == nil {
		return &BeanError{Message: "constructor returned nil", Key: d.key}
	}
	if !vt.AssignableTo(d.key) {
		return &BeanError{Message: fmt.Sprintf("constructor result %v is not assignable to key", vt), Key: d.key}
	}
	res.set(d.key, value)
	r.log.Debug("bean constructed",
		zap.String("key", d.key.String()),
		zap.String("kind", d.kind.String()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// resolution is the registry-in-progress. Constructors in the same wave may
// write concurrently, so access is locked; once Finalize returns, the value
// map is handed to the immutable Registry and never written again.
type resolution struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

func (s *resolution) get(key reflect.Type) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *resolution) set(key reflect.Type, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}
