package definition

import (
	"os"
	"strings"
)

// Env is the set of environment overrides scoped to one build. It never
// writes to the process environment.
type Env map[string]string

// ParseEnv reads one KEY=VALUE pair per line. Lines without '=' and pairs
// with a blank key or value are skipped.
func ParseEnv(text string) Env {
	env := Env{}
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// Get returns the override for key, falling back to the process environment.
func (e Env) Get(key string) string {
	if v, ok := e[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// Lookup is Get restricted to the first non-empty of several keys.
func (e Env) Lookup(keys ...string) string {
	for _, k := range keys {
		if v := e.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// Merge returns a copy of e with other layered on top.
func (e Env) Merge(other Env) Env {
	out := make(Env, len(e)+len(other))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
