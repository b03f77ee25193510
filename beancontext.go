package beankit

import (
	"fmt"
	"reflect"
	"time"
)

// BeanContext is the narrow, read-only view a constructor gets of the
// registry-in-progress. Get succeeds only for keys already resolved, an
// invariant guaranteed by the resolution order rather than re-checked per
// call, and the config accessors resolve only the keys the descriptor
// declared.
type BeanContext struct {
	res  *resolution
	desc *BeanDescriptor
	cfg  Config
}

// Get returns the already-resolved dependency stored under key. Asking for a
// key that is not in the descriptor's dependency list (and therefore may not
// be resolved yet) panics: undeclared reads are exactly the ad-hoc lookups
// this package exists to eliminate.
func (bc *BeanContext) Get(key reflect.Type) any {
	declared := false
	for _, d := range bc.desc.deps {
		if d == key {
			declared = true
			break
		}
	}
	if !declared {
		panic(&BeanError{
			Message: fmt.Sprintf("dependency %v not declared by bean", key),
			Key:     bc.desc.key,
		})
	}
	v, ok := bc.res.get(key)
	if !ok {
		// Unreachable when the resolver ordered correctly.
		panic(&BeanError{Message: "declared dependency not yet resolved", Key: key})
	}
	return v
}

// BeanOf returns the already-resolved dependency of type T from the context.
func BeanOf[T any](bc *BeanContext) T {
	return bc.Get(KeyOf[T]()).(T)
}

// String resolves a declared string config parameter. A missing non-optional
// key yields a MissingConfigError naming the key and its derived environment
// variable; a missing optional key yields the zero value.
func (bc *BeanContext) String(key string) (string, error) {
	v, err := bc.configValue(key, StringValue)
	if err != nil || v == nil {
		return "", err
	}
	return v.(string), nil
}

// Int resolves a declared int config parameter.
func (bc *BeanContext) Int(key string) (int, error) {
	v, err := bc.configValue(key, IntValue)
	if err != nil || v == nil {
		return 0, err
	}
	return v.(int), nil
}

// Bool resolves a declared bool config parameter.
func (bc *BeanContext) Bool(key string) (bool, error) {
	v, err := bc.configValue(key, BoolValue)
	if err != nil || v == nil {
		return false, err
	}
	return v.(bool), nil
}

// Duration resolves a declared duration config parameter.
func (bc *BeanContext) Duration(key string) (time.Duration, error) {
	v, err := bc.configValue(key, DurationValue)
	if err != nil || v == nil {
		return 0, err
	}
	return v.(time.Duration), nil
}

func (bc *BeanContext) configValue(key string, kind ConfigKind) (any, error) {
	var param *ConfigParam
	for i := range bc.desc.params {
		if bc.desc.params[i].Key == key {
			param = &bc.desc.params[i]
			break
		}
	}
	if param == nil {
		return nil, &BeanError{
			Message: fmt.Sprintf("config key %q not declared by bean", key),
			Key:     bc.desc.key,
		}
	}
	if param.Kind != kind {
		return nil, &BeanError{
			Message: fmt.Sprintf("config key %q declared as %s, read as %s", key, param.Kind, kind),
			Key:     bc.desc.key,
		}
	}
	if bc.cfg != nil {
		if v, ok := bc.cfg.Lookup(key, kind); ok {
			return v, nil
		}
	}
	if param.Optional {
		return nil, nil
	}
	return nil, &MissingConfigError{Owner: bc.desc.key.String(), Key: key, EnvVar: EnvVarName(key)}
}
