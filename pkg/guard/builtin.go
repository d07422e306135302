package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/siirto/pkg/api"
)

// Metadata keys consumed by the builtin guard kinds.
const (
	MetaRequiredRoles      = "required_roles"
	MetaRequiredCapability = "required_capability"
	MetaCallbackName       = "callback"
)

// RoleGuard allows a principal whose role set intersects the required
// roles from transition metadata.
type RoleGuard struct {
	Required []string
}

func NewRoleGuard(meta api.Metadata) (Guard, error) {
	roles, err := stringList(meta, MetaRequiredRoles)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, errors.New("role guard requires non-empty " + MetaRequiredRoles)
	}
	return &RoleGuard{Required: roles}, nil
}

func (g *RoleGuard) Evaluate(ctx context.Context, ref api.EntityRef, principal api.Principal) (api.Decision, error) {
	for _, r := range g.Required {
		if principal.HasRole(r) {
			return api.Decision{Allowed: true}, nil
		}
	}
	return api.Decision{
		Reason: fmt.Sprintf("requires one of roles [%s]", strings.Join(g.Required, ", ")),
	}, nil
}

// CapabilityGuard allows a principal whose capability set contains the
// required capability from transition metadata.
type CapabilityGuard struct {
	Required string
}

func NewCapabilityGuard(meta api.Metadata) (Guard, error) {
	c, err := stringValue(meta, MetaRequiredCapability)
	if err != nil {
		return nil, err
	}
	if c == "" {
		return nil, errors.New("capability guard requires " + MetaRequiredCapability)
	}
	return &CapabilityGuard{Required: c}, nil
}

func (g *CapabilityGuard) Evaluate(ctx context.Context, ref api.EntityRef, principal api.Principal) (api.Decision, error) {
	if principal.HasCapability(g.Required) {
		return api.Decision{Allowed: true}, nil
	}
	return api.Decision{
		Reason: fmt.Sprintf("requires capability %q", g.Required),
	}, nil
}

// OwnerGuard allows the principal whose ID equals the owner identifier
// the caller supplied on the entity reference. The engine never looks up
// ownership itself; an empty owner denies.
type OwnerGuard struct{}

func NewOwnerGuard(meta api.Metadata) (Guard, error) {
	return OwnerGuard{}, nil
}

func (OwnerGuard) Evaluate(ctx context.Context, ref api.EntityRef, principal api.Principal) (api.Decision, error) {
	if ref.Owner != "" && ref.Owner == principal.ID {
		return api.Decision{Allowed: true}, nil
	}
	return api.Decision{Reason: "principal is not the entity owner"}, nil
}

// callbackGuard resolves a named callback through the registry at
// evaluation time.
type callbackGuard struct {
	name     string
	registry *Registry
}

func (g *callbackGuard) Evaluate(ctx context.Context, ref api.EntityRef, principal api.Principal) (api.Decision, error) {
	fn, ok := g.registry.callback(g.name)
	if !ok {
		return api.Decision{}, &api.NotFoundError{Kind: "callback", ID: g.name}
	}
	if fn(ctx, ref, principal) {
		return api.Decision{Allowed: true}, nil
	}
	return api.Decision{Reason: fmt.Sprintf("callback %q denied", g.name)}, nil
}
