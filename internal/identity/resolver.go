package identity

import (
	"context"
	"sort"
	"time"
)

// Resolver computes the effective permission set for a user: the union of
// permissions reachable through live role grants and live direct grants,
// deduplicated by permission identity.
//
// A direct grant with IsGranted=false does not subtract role-derived
// permissions. There is no deny-override in this design; see DESIGN.md.
type Resolver struct {
	store Store
	now   func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the directory store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EffectivePermissions returns the sorted permission codes the user holds
// right now. Expired or inactive grants contribute nothing. Callers
// authorize by code, never by internal identifier.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	perms, err := r.store.Permissions(ctx).ForUser(ctx, userID, r.now().UTC())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(perms))
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		if !p.IsActive {
			continue
		}
		// Dedup by permission ID: reachable via both a role and a direct
		// grant still appears once.
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		codes = append(codes, p.Code)
	}
	sort.Strings(codes)
	return codes, nil
}

// LiveRoleNames returns the names of roles the user holds through live
// grants, in priority order as reported by the store.
func (r *Resolver) LiveRoleNames(ctx context.Context, userID string) ([]string, error) {
	roles, err := r.store.Roles(ctx).LiveRolesForUser(ctx, userID, r.now().UTC())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		names = append(names, role.Name)
	}
	return names, nil
}
