package core

import (
	"fmt"
	"strings"
)

type ScopeKind string

const (
	ScopePersonal ScopeKind = "personal"
	ScopeGroup    ScopeKind = "group"
)

// Scope is the data partition every repository query and subscription is
// filtered by. Group scopes carry the resolved member list so filters on
// owner-keyed tables can be built without another lookup.
type Scope struct {
	Kind      ScopeKind
	Principal string
	GroupID   string
	Members   []string
}

func Personal(principal string) Scope {
	return Scope{Kind: ScopePersonal, Principal: principal}
}

func GroupScope(principal string, g Group) Scope {
	return Scope{
		Kind:      ScopeGroup,
		Principal: principal,
		GroupID:   g.ID,
		Members:   append([]string(nil), g.Members...),
	}
}

// IsGroup reports whether s is a shared group scope.
func (s Scope) IsGroup() bool {
	return s.Kind == ScopeGroup
}

// Key identifies the partition: "personal:<principal>" or "group:<id>".
func (s Scope) Key() string {
	if s.IsGroup() {
		return "group:" + s.GroupID
	}
	return "personal:" + s.Principal
}

func (s Scope) String() string {
	return s.Key()
}

// Owns reports whether a row carrying the given group reference belongs to
// this scope's partition. Personal scopes own only rows without a group.
func (s Scope) Owns(groupID *string) bool {
	if s.IsGroup() {
		return groupID != nil && *groupID == s.GroupID
	}
	return groupID == nil
}

func (s Scope) Validate() error {
	if strings.TrimSpace(s.Principal) == "" {
		return fmt.Errorf("%w: empty principal", ErrInvalidScope)
	}
	switch s.Kind {
	case ScopePersonal:
		return nil
	case ScopeGroup:
		if strings.TrimSpace(s.GroupID) == "" {
			return fmt.Errorf("%w: empty group id", ErrInvalidScope)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
}

// Equal compares partitions, ignoring the member snapshot.
func (s Scope) Equal(o Scope) bool {
	return s.Kind == o.Kind && s.Principal == o.Principal && s.GroupID == o.GroupID
}
