// Package groups resolves the shared workspaces a principal belongs to.
package groups

import (
	"context"
	"fmt"
	"sort"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/repository"
	"fintrack/internal/store"
)

type Directory struct {
	repo   *repository.Repository[core.Group]
	logger *log.Logger
}

func NewDirectory(reader store.Reader, retry repository.Retry, logger *log.Logger) *Directory {
	return &Directory{
		repo:   repository.NewGroups(reader, retry, logger),
		logger: log.OrNop(logger).WithComponent(log.ComponentGroups),
	}
}

// ListForPrincipal returns every group the principal owns or is a member
// of, sorted by name.
func (d *Directory) ListForPrincipal(ctx context.Context, principal string) ([]core.Group, error) {
	member, err := d.repo.FetchWhere(ctx, []store.Filter{store.Contains("members", principal)})
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", principal, err)
	}
	owned, err := d.repo.FetchWhere(ctx, []store.Filter{store.Eq("owner", principal)})
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", principal, err)
	}

	seen := make(map[string]struct{}, len(member)+len(owned))
	var out []core.Group
	for _, g := range append(member, owned...) {
		if _, ok := seen[g.ID]; ok {
			continue
		}
		seen[g.ID] = struct{}{}
		g, err := d.normalize(g)
		if err != nil {
			d.logger.Warn("Skipping invalid group", "group_id", g.ID, log.FieldError, err)
			continue
		}
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Resolve loads a group and checks that principal may use it as a scope.
// Unknown groups and non-members both yield core.ErrScopeDenied.
func (d *Directory) Resolve(ctx context.Context, principal, groupID string) (core.Group, error) {
	groups, err := d.repo.FetchWhere(ctx, []store.Filter{store.Eq("id", groupID)})
	if err != nil {
		return core.Group{}, fmt.Errorf("resolve group %s: %w", groupID, err)
	}
	if len(groups) == 0 {
		return core.Group{}, fmt.Errorf("%w: group %s not found", core.ErrScopeDenied, groupID)
	}
	g, err := d.normalize(groups[0])
	if err != nil {
		return core.Group{}, fmt.Errorf("%w: group %s: %v", core.ErrScopeDenied, groupID, err)
	}
	if !g.HasMember(principal) {
		return core.Group{}, fmt.Errorf("%w: %s is not a member of %s", core.ErrScopeDenied, principal, groupID)
	}
	return g, nil
}

// ScopeFor resolves groupID into a group scope for principal.
func (d *Directory) ScopeFor(ctx context.Context, principal, groupID string) (core.Scope, error) {
	g, err := d.Resolve(ctx, principal, groupID)
	if err != nil {
		return core.Scope{}, err
	}
	return core.GroupScope(principal, g), nil
}

func (d *Directory) normalize(g core.Group) (core.Group, error) {
	owned := g.HasMember(g.Owner)
	g = g.Normalize()
	if !owned && g.Owner != "" {
		d.logger.Warn("Group owner missing from members, adding", "group_id", g.ID, "owner", g.Owner)
	}
	return g, g.Validate()
}
