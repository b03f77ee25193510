package beankit

import (
	"context"
	"reflect"
)

// BeanKind distinguishes how a constructor behaves during resolution.
type BeanKind int

const (
	// KindSync constructors are cheap and run inline on the resolving
	// goroutine.
	KindSync BeanKind = iota

	// KindAsync constructors may block on I/O (dialing a database, warming a
	// cache). The resolver awaits them before any dependent is constructed,
	// and runs independent ones concurrently.
	KindAsync

	// KindProducer constructors build a value of a type the application does
	// not own, such as a pooled client from a third-party SDK. They resolve
	// like async constructors.
	KindProducer
)

func (k BeanKind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	case KindProducer:
		return "producer"
	}
	return "unknown"
}

// Constructor builds one bean. The BeanContext exposes only dependencies that
// the resolution order has already completed, plus the config parameters the
// descriptor declared.
type Constructor func(ctx context.Context, bc *BeanContext) (any, error)

// ConfigParam declares a configuration key a constructor reads. Declared
// params are validated eagerly during Finalize: a missing non-optional key is
// part of the aggregated startup report, constructor never invoked.
type ConfigParam struct {
	Key      string
	Kind     ConfigKind
	Optional bool
}

// BeanDescriptor is the static metadata for one constructible singleton.
// Descriptors are created by the Register* calls and immutable thereafter;
// Finalize consumes each exactly once.
type BeanDescriptor struct {
	key    reflect.Type
	kind   BeanKind
	deps   []reflect.Type
	params []ConfigParam
	ctor   Constructor
}

// Key returns the type key the resolved singleton is stored under.
func (d *BeanDescriptor) Key() reflect.Type { return d.key }

// Kind returns the constructor kind.
func (d *BeanDescriptor) Kind() BeanKind { return d.kind }

// Deps returns the declared dependency keys.
func (d *BeanDescriptor) Deps() []reflect.Type {
	out := make([]reflect.Type, len(d.deps))
	copy(out, d.deps)
	return out
}

// Params returns the declared config parameters.
func (d *BeanDescriptor) Params() []ConfigParam {
	out := make([]ConfigParam, len(d.params))
	copy(out, d.params)
	return out
}

// KeyOf returns the type key for T. Interface types work as expected:
// KeyOf[io.Closer]() yields the interface type, not a pointer to it.
func KeyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Keys is a convenience for building dependency lists:
// Keys(KeyOf[*Database](), KeyOf[*Mailer]()).
func Keys(keys ...reflect.Type) []reflect.Type {
	return keys
}
