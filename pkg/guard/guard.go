// Package guard implements the pluggable authorization checks evaluated
// before a transition is applied, and the registry that resolves a stored
// guard identifier to a concrete check.
//
// A transition carries at most one guard. A guard is configured purely
// from the transition's metadata; adding a new guard kind means
// registering a new factory under a string key, never reflective class
// loading. Unresolvable identifiers fail closed.
package guard

import (
	"context"
	"fmt"

	"github.com/petrijr/siirto/pkg/api"
)

// Guard is a polymorphic authorization check.
type Guard interface {
	// Evaluate returns the verdict for (ref, principal) under the
	// transition metadata the guard was built from. An error means the
	// check could not run at all (for example an unresolved callback)
	// and is distinct from a denial.
	Evaluate(ctx context.Context, ref api.EntityRef, principal api.Principal) (api.Decision, error)
}

// Factory builds a Guard from a transition's metadata. It is invoked on
// every resolution, so construction must be cheap.
type Factory func(meta api.Metadata) (Guard, error)

// Callback is a named, externally registered check used by the callback
// guard kind.
type Callback func(ctx context.Context, ref api.EntityRef, principal api.Principal) bool

// stringList reads a metadata value as a list of strings. It accepts
// []string, []any of strings, or a single string.
func stringList(meta api.Metadata, key string) ([]string, error) {
	v, ok := meta[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case []string:
		return t, nil
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("metadata %q: expected string element, got %T", key, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("metadata %q: expected string list, got %T", key, v)
	}
}

// stringValue reads a metadata value as a string.
func stringValue(meta api.Metadata, key string) (string, error) {
	v, ok := meta[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("metadata %q: expected string, got %T", key, v)
	}
	return s, nil
}
