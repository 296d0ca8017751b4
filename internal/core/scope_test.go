package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeKeyAndOwns(t *testing.T) {
	p := Personal("alice")
	assert.Equal(t, "personal:alice", p.Key())
	assert.True(t, p.Owns(nil))
	assert.False(t, p.Owns(strPtr("g1")))

	g := GroupScope("alice", Group{ID: "g1", Owner: "bob", Members: []string{"bob", "alice"}})
	assert.Equal(t, "group:g1", g.Key())
	assert.True(t, g.Owns(strPtr("g1")))
	assert.False(t, g.Owns(strPtr("g2")))
	assert.False(t, g.Owns(nil))
	assert.Equal(t, []string{"bob", "alice"}, g.Members)
}

func TestScopeValidate(t *testing.T) {
	assert.NoError(t, Personal("alice").Validate())
	assert.ErrorIs(t, Personal("").Validate(), ErrInvalidScope)
	assert.ErrorIs(t, Scope{Kind: ScopeGroup, Principal: "alice"}.Validate(), ErrInvalidScope)
	assert.ErrorIs(t, Scope{Kind: "team", Principal: "alice"}.Validate(), ErrInvalidScope)
}

func TestScopeEqualIgnoresMembers(t *testing.T) {
	a := Scope{Kind: ScopeGroup, Principal: "alice", GroupID: "g1", Members: []string{"alice"}}
	b := Scope{Kind: ScopeGroup, Principal: "alice", GroupID: "g1", Members: []string{"alice", "bob"}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Personal("alice")))
}

func TestQueryErrorClassification(t *testing.T) {
	base := errors.New("column amount is text")
	err := NewQueryError(KindSchemaMismatch, "select", "expenses", base)

	assert.Equal(t, KindSchemaMismatch, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "schema_mismatch")
	assert.Contains(t, err.Error(), "migrate")

	transient := NewQueryError(KindTransient, "select", "expenses", errors.New("reset"))
	assert.True(t, IsRetryable(transient))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.NoError(t, NewQueryError(KindTransient, "select", "x", nil))
}
