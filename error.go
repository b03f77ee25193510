package beankit

import (
	"fmt"
	"reflect"
	"strings"
)

// BeanError is the error reported when a single bean cannot be constructed.
// Key is the type key of the offending bean and SourceError, if present, is
// the underlying constructor failure.
type BeanError struct {
	Message     string
	Key         reflect.Type
	SourceError error
}

func (e *BeanError) Error() string {
	if e.SourceError == nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %v (%v)", e.Message, e.Key, e.SourceError)
}

func (e *BeanError) Unwrap() error {
	return e.SourceError
}

// MissingDependencyError reports a single unsatisfiable edge in the bean
// graph: Bean declares a dependency on Missing, and Missing is neither
// registered nor provided. Finalize aggregates one of these per violated
// edge, never just the first.
type MissingDependencyError struct {
	Bean    reflect.Type
	Missing reflect.Type
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%v requires %v which is neither registered nor provided", e.Bean, e.Missing)
}

// DuplicateKeyError reports a second registration for a type key that is
// already registered or provided.
type DuplicateKeyError struct {
	Key reflect.Type
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate registration for %v", e.Key)
}

// MissingConfigError reports a required configuration key that could not be
// found. EnvVar carries the environment-variable name derived from the dotted
// key so the report is directly actionable. Owner names the bean or component
// that declared the key, when known.
type MissingConfigError struct {
	Owner  string
	Key    string
	EnvVar string
}

func (e *MissingConfigError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("missing required config key %q (env %s)", e.Key, e.EnvVar)
	}
	return fmt.Sprintf("%s: missing required config key %q (env %s)", e.Owner, e.Key, e.EnvVar)
}

// CycleError reports a dependency cycle in the bean graph. Path holds the
// full cycle with the starting key repeated at the end, e.g. A -> B -> A.
type CycleError struct {
	Path []reflect.Type
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Path))
	for i, t := range e.Path {
		names[i] = t.String()
	}
	return "dependency cycle: " + strings.Join(names, " -> ")
}
