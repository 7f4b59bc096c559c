// Package jobctx implements the job-wide shared mutable map described in
// spec §3/§4.2/§4.3: a namespaced mapping (context[namespace][key] = value)
// plus a FIFO trigger queue of diagnostic complaint tokens, generalized from
// lava_dispatcher's Action.data / get_common_data / set_common_data
// (action.py) and Job.triggers.
//
// The "Context as global dict-of-dicts" design note in spec §9 asks for a
// typed namespaced store with explicit get/set and optional copy-on-read
// semantics rather than a bare map[string]map[string]interface{}; this is
// that store.
package jobctx

import (
	"reflect"
	"sync"
)

// CommonNamespace is the cross-action namespace shared by every action in a
// job, matching lava_dispatcher's 'common' namespace.
const CommonNamespace = "common"

// Context is the job-wide namespaced mutable store. It is safe for
// concurrent use, though spec §5 guarantees only one action runs at a time;
// the lock exists for the errgroup-based concurrent protocol calls inside a
// single action's call_protocols (spec §4.2), not for cross-action races.
type Context struct {
	mu         sync.Mutex
	namespaces map[string]map[string]any
}

// New returns an empty Context with the common namespace pre-created.
func New() *Context {
	c := &Context{namespaces: make(map[string]map[string]any)}
	c.EnsureNamespace(CommonNamespace)
	return c
}

// EnsureNamespace creates ns if it does not already exist. lava_dispatcher's
// Action.validate calls job.context.setdefault(self.name, {}) unconditionally
// for every action; pipeline.Base.Validate calls this for the same reason
// (SPEC_FULL §12.2).
func (c *Context) EnsureNamespace(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.namespaces[ns]; !ok {
		c.namespaces[ns] = make(map[string]any)
	}
}

// Get returns the value stored at ns/key. When deepCopy is true (the
// default callers should use) a deep copy is returned so the caller cannot
// accidentally alias and mutate another action's state; when false, the
// stored reference itself is returned.
func (c *Context) Get(ns, key string, deepCopy bool) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.namespaces[ns]
	if !ok {
		return nil, false
	}
	v, ok := bucket[key]
	if !ok {
		return nil, false
	}
	if deepCopy {
		return deepCopyValue(v), true
	}
	return v, true
}

// Set stores value at ns/key, creating ns if necessary.
func (c *Context) Set(ns, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.namespaces[ns]
	if !ok {
		bucket = make(map[string]any)
		c.namespaces[ns] = bucket
	}
	bucket[key] = value
}

// Namespace returns a shallow snapshot of every key/value pair in ns, or nil
// if ns does not exist. Used by describe() and diagnostics.
func (c *Context) Namespace(ns string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.namespaces[ns]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(bucket))
	for k, v := range bucket {
		out[k] = v
	}
	return out
}

// GetCommon is a shortcut for Get(CommonNamespace, key, deepCopy),
// mirroring lava_dispatcher's Action.get_common_data(ns='common', ...).
func (c *Context) GetCommon(key string, deepCopy bool) (any, bool) {
	return c.Get(CommonNamespace, key, deepCopy)
}

// SetCommon is a shortcut for Set(CommonNamespace, key, value).
func (c *Context) SetCommon(key string, value any) {
	c.Set(CommonNamespace, key, value)
}

// deepCopyValue deep-copies the scalar/slice/map shapes that flow through a
// YAML-derived parameter tree and common-data exchange. Anything else
// (pointers to non-plain-data types, funcs, channels) is returned as-is:
// callers exchanging such values should opt into aliased access explicitly.
func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopyValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopyValue(vv)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		rv := reflect.ValueOf(v)
		if rv.IsValid() && (rv.Kind() == reflect.Map || rv.Kind() == reflect.Slice) {
			return reflectDeepCopy(rv).Interface()
		}
		return v
	}
}

func reflectDeepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		for _, k := range v.MapKeys() {
			out.SetMapIndex(k, reflectDeepCopy(v.MapIndex(k)))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(reflectDeepCopy(v.Index(i)))
		}
		return out
	default:
		return v
	}
}

// TriggerQueue is the FIFO queue of diagnostic complaint tokens described in
// spec §4.3 (_diagnose): an Action may append a complaint at any point
// before raising, and the queue is drained (and cleared) once after an
// error reaches the pipeline's diagnose step — not after each complaint
// individually (spec SPEC_FULL §12.5).
type TriggerQueue struct {
	mu    sync.Mutex
	items []string
}

// Push appends a complaint token to the queue.
func (t *TriggerQueue) Push(complaint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, complaint)
}

// Drain returns and clears every queued complaint, in FIFO order.
func (t *TriggerQueue) Drain() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.items
	t.items = nil
	return out
}
