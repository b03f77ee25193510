package beankit

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Registry is the immutable, type-keyed store of resolved singletons. It is
// built once by Finalize, is read-only afterward, and therefore needs no
// synchronization for reads.
type Registry struct {
	values map[reflect.Type]any
	kinds  map[reflect.Type]string
}

// Has reports whether a key was resolved or provided.
func (r *Registry) Has(key reflect.Type) bool {
	_, ok := r.values[key]
	return ok
}

// Get returns the singleton stored under key.
//
// Safety invariant: Get is only called with keys proven present by Finalize's
// validation pass (every injected-field key is checked before the transport
// starts). Calling it with an unvalidated key panics rather than returning a
// zero value; that is a programming error, not a runtime condition.
func (r *Registry) Get(key reflect.Type) any {
	v, ok := r.values[key]
	if !ok {
		panic(&BeanError{Message: "no resolved value for key", Key: key})
	}
	return v
}

// Keys returns every resolved key, sorted by type name for determinism.
func (r *Registry) Keys() []reflect.Type {
	out := make([]reflect.Type, 0, len(r.values))
	for k := range r.values {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Lookup returns the singleton for type T. The same presence invariant as
// Registry.Get applies.
func Lookup[T any](r *Registry) T {
	return r.Get(KeyOf[T]()).(T)
}

// LookupOK returns the singleton for type T and whether it exists, without
// panicking.
func LookupOK[T any](r *Registry) (T, bool) {
	v, ok := r.values[KeyOf[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Status is a diagnostic tool that returns one line per resolved key naming
// the key and how it got there (sync, async, producer, or provided).
func (r *Registry) Status() string {
	b := strings.Builder{}
	for _, k := range r.Keys() {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("%v - %s", k, r.kinds[k]))
	}
	return b.String()
}
