package guard

import (
	"fmt"
	"sync"

	"github.com/petrijr/siirto/pkg/api"
)

// Builtin guard kinds pre-registered by NewRegistry.
const (
	KindRole       = "role"
	KindCapability = "capability"
	KindOwner      = "owner"
	KindCallback   = "callback"
)

// Registry maps stable string identifiers to guard factories, and named
// callbacks to functions. It is safe for concurrent use; in practice it
// is populated at startup and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	callbacks map[string]Callback
}

// NewRegistry returns a Registry with the builtin guard kinds registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		callbacks: make(map[string]Callback),
	}
	r.Register(KindRole, NewRoleGuard)
	r.Register(KindCapability, NewCapabilityGuard)
	r.Register(KindOwner, NewOwnerGuard)
	r.Register(KindCallback, r.newCallbackGuard)
	return r
}

// Register adds (or replaces) a guard factory under the given kind.
func (r *Registry) Register(kind string, f Factory) {
	if kind == "" {
		panic("guard: kind must not be empty")
	}
	if f == nil {
		panic(fmt.Sprintf("guard: kind %q has nil factory", kind))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// RegisterCallback adds (or replaces) a named callback for the callback
// guard kind.
func (r *Registry) RegisterCallback(name string, fn Callback) {
	if name == "" {
		panic("guard: callback name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("guard: callback %q is nil", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[name] = fn
}

// Resolve builds the guard for the stored identifier from the
// transition's metadata. Unknown identifiers fail closed with a
// NotFoundError; they never mean "allow".
func (r *Registry) Resolve(guardID string, meta api.Metadata) (Guard, error) {
	r.mu.RLock()
	f, ok := r.factories[guardID]
	r.mu.RUnlock()
	if !ok {
		return nil, &api.NotFoundError{Kind: "guard", ID: guardID}
	}
	g, err := f(meta)
	if err != nil {
		return nil, fmt.Errorf("guard %q: %w", guardID, err)
	}
	return g, nil
}

func (r *Registry) callback(name string) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callbacks[name]
	return fn, ok
}

// newCallbackGuard builds a guard that defers resolution of the named
// function to evaluation time, through this registry.
func (r *Registry) newCallbackGuard(meta api.Metadata) (Guard, error) {
	name, err := stringValue(meta, MetaCallbackName)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("callback guard requires %s", MetaCallbackName)
	}
	return &callbackGuard{name: name, registry: r}, nil
}
