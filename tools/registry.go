package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

// Descriptor is the catalog entry for a built-in capability.
type Descriptor struct {
	Key         string
	Category    string
	Description string
}

// Factory constructs a tool for one build. env carries the build's
// environment overrides.
type Factory func(env definition.Env) (Tool, error)

// ClassFactory instantiates a class and returns its methods by name.
type ClassFactory func(env definition.Env) (map[string]Tool, error)

// Registry maps stable keys to tool factories. Keys without dots name a
// single capability; dotted keys of the form pkg.Class.method are served by
// a class registered under pkg.Class.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	factories   map[string]Factory
	classes     map[string]ClassFactory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		classes:   make(map[string]ClassFactory),
	}
}

// Register adds a single-key capability. It panics on an invalid or
// duplicate key.
func (r *Registry) Register(d Descriptor, f Factory) {
	if d.Key == "" || strings.Contains(d.Key, ".") {
		panic(fmt.Sprintf("tools: invalid capability key %q", d.Key))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[d.Key]; dup {
		panic(fmt.Sprintf("tools: capability %q registered twice", d.Key))
	}
	r.factories[d.Key] = f
	r.descriptors = append(r.descriptors, d)
}

// RegisterClass adds a class under classKey (pkg.Class). Each method listed
// in methods is published in the catalog as classKey.method. It panics on an
// invalid or duplicate key.
func (r *Registry) RegisterClass(classKey string, f ClassFactory, methods ...Descriptor) {
	if len(strings.Split(classKey, ".")) < 2 {
		panic(fmt.Sprintf("tools: class key %q must be pkg.Class", classKey))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.classes[classKey]; dup {
		panic(fmt.Sprintf("tools: class %q registered twice", classKey))
	}
	r.classes[classKey] = f
	for _, m := range methods {
		m.Key = classKey + "." + m.Key
		r.descriptors = append(r.descriptors, m)
	}
}

// Descriptors lists every published capability in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Descriptor(nil), r.descriptors...)
}

// Has reports whether a single-key capability exists.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[key]
	return ok
}

// Resolve turns a native binding name into a tool. A single segment is a
// capability key; three or more segments are pkg.Class.method. Every other
// shape is an UnresolvedBindingError.
func (r *Registry) Resolve(name string, env definition.Env) (Tool, error) {
	segs := strings.Split(name, ".")
	switch {
	case len(segs) == 1:
		r.mu.RLock()
		f, ok := r.factories[name]
		r.mu.RUnlock()
		if !ok {
			return nil, errors.UnresolvedBinding(name, string(definition.ToolNative), "no capability registered under this key")
		}
		t, err := f(env)
		if err != nil {
			return nil, errors.UnresolvedBinding(name, string(definition.ToolNative), "construct: %v", err)
		}
		return t, nil
	case len(segs) >= 3:
		classKey := strings.Join(segs[:len(segs)-1], ".")
		method := segs[len(segs)-1]
		r.mu.RLock()
		f, ok := r.classes[classKey]
		r.mu.RUnlock()
		if !ok {
			return nil, errors.UnresolvedBinding(name, string(definition.ToolNative), "no class registered under %q", classKey)
		}
		methods, err := f(env)
		if err != nil {
			return nil, errors.UnresolvedBinding(name, string(definition.ToolNative), "instantiate %s: %v", classKey, err)
		}
		t, ok := methods[method]
		if !ok {
			return nil, errors.UnresolvedBinding(name, string(definition.ToolNative), "class %s has no method %q", classKey, method)
		}
		return t, nil
	default:
		return nil, errors.UnresolvedBinding(name, string(definition.ToolNative),
			"invalid tool name format, expected module or module.Class.method")
	}
}
