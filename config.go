package beankit

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ConfigKind is the expected value type of a configuration key.
type ConfigKind int

const (
	StringValue ConfigKind = iota
	IntValue
	BoolValue
	DurationValue
)

func (k ConfigKind) String() string {
	switch k {
	case StringValue:
		return "string"
	case IntValue:
		return "int"
	case BoolValue:
		return "bool"
	case DurationValue:
		return "duration"
	}
	return "unknown"
}

// Config is the typed dotted-key lookup contract consumed by the resolver and
// the pipeline executor. Lookup returns the value coerced to the requested
// kind, or false when the key is absent or not coercible. How values are
// loaded (files, env overlays) is the implementation's business.
type Config interface {
	Lookup(key string, kind ConfigKind) (any, bool)
}

// EnvVarName derives the environment-variable name for a dotted config key:
// "cache.default-ttl" becomes "CACHE_DEFAULT_TTL". Startup error reports use
// this to name the unmet requirement.
func EnvVarName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// EnvConfig resolves dotted keys against process environment variables via
// EnvVarName. LoadEnvConfig optionally overlays one or more dotenv files
// first; variables already present in the environment win over file values.
type EnvConfig struct{}

// LoadEnvConfig loads the given dotenv files (".env" when none are named) and
// returns an EnvConfig. A missing file is not an error; production processes
// typically carry no dotenv file at all.
func LoadEnvConfig(files ...string) *EnvConfig {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else {
		_ = godotenv.Load(files...)
	}
	return &EnvConfig{}
}

func (c *EnvConfig) Lookup(key string, kind ConfigKind) (any, bool) {
	raw, ok := os.LookupEnv(EnvVarName(key))
	if !ok {
		return nil, false
	}
	return parseConfigValue(raw, kind)
}

// MapConfig is an in-memory Config, mainly for tests and embedded use.
// Values may be stored as their Go type or as strings to be parsed on lookup.
type MapConfig map[string]any

func (m MapConfig) Lookup(key string, kind ConfigKind) (any, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	switch kind {
	case StringValue:
		if s, ok := v.(string); ok {
			return s, true
		}
	case IntValue:
		if i, ok := v.(int); ok {
			return i, true
		}
	case BoolValue:
		if b, ok := v.(bool); ok {
			return b, true
		}
	case DurationValue:
		if d, ok := v.(time.Duration); ok {
			return d, true
		}
	}
	if s, ok := v.(string); ok {
		return parseConfigValue(s, kind)
	}
	return nil, false
}

func parseConfigValue(raw string, kind ConfigKind) (any, bool) {
	switch kind {
	case StringValue:
		return raw, true
	case IntValue:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, false
		}
		return i, true
	case BoolValue:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, false
		}
		return b, true
	case DurationValue:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, false
		}
		return d, true
	}
	return nil, false
}

// requiredConfigValue looks up a key and converts absence into a
// MissingConfigError carrying the derived environment-variable name.
func requiredConfigValue(cfg Config, owner, key string, kind ConfigKind) (any, error) {
	if cfg != nil {
		if v, ok := cfg.Lookup(key, kind); ok {
			return v, nil
		}
	}
	return nil, &MissingConfigError{Owner: owner, Key: key, EnvVar: EnvVarName(key)}
}
