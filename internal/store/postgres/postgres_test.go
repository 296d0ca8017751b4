package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

func TestDialectSelect(t *testing.T) {
	sql, args, err := store.BuildSelect(store.Query{
		Table:   store.TableCategories,
		Filters: []store.Filter{store.In("owner", "alice", "bob")},
	}, Dialect)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id"::text AS "id", "owner"::text AS "owner", "name"::text AS "name", "color"::text AS "color", "icon"::text AS "icon", "active" FROM "categories" WHERE "owner" IN ($1, $2)`, sql)
	assert.Equal(t, []any{"alice", "bob"}, args)

	sql, _, err = store.BuildSelect(store.Query{
		Table:   store.TableGroups,
		Filters: []store.Filter{store.Contains("members", "alice")},
	}, Dialect)
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE "members" ? $1`)
}

func TestParsePayload(t *testing.T) {
	c, err := ParsePayload(`{"table":"expenses","op":"update","old":{"id":"e1","owner":"alice","group_id":null},"new":{"id":"e1","owner":"alice","group_id":"g1","amount":12.50}}`)
	require.NoError(t, err)
	assert.Equal(t, store.TableExpenses, c.Table)
	assert.Equal(t, store.ChangeUpdate, c.Op)
	assert.True(t, c.Matches(store.TableExpenses, []store.Filter{store.Eq("owner", "alice"), store.IsNull("group_id")}))
	assert.True(t, c.Matches(store.TableExpenses, []store.Filter{store.Eq("group_id", "g1")}))

	c, err = ParsePayload(`{"table":"incomes","op":"delete","old":{"id":"i1"},"new":null}`)
	require.NoError(t, err)
	assert.Nil(t, c.New)

	c, err = ParsePayload(`{"table":"groups","op":"insert","old":null,"new":{"id":"g1","owner":"bob","group_id":null}}`)
	require.NoError(t, err)
	assert.True(t, c.Matches(store.TableGroups, []store.Filter{store.Eq("id", "g1")}))

	_, err = ParsePayload(`{"table":"accounts","op":"insert"}`)
	assert.Error(t, err)
	_, err = ParsePayload(`not json`)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.Kind
	}{
		{"permission", &pgconn.PgError{Code: "42501"}, core.KindPermissionDenied},
		{"undefined column", &pgconn.PgError{Code: "42703"}, core.KindSchemaMismatch},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, core.KindSchemaMismatch},
		{"datatype mismatch", &pgconn.PgError{Code: "42804"}, core.KindSchemaMismatch},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, core.KindTransient},
		{"unique violation", &pgconn.PgError{Code: "23505"}, core.KindUnknown},
		{"deadline", context.DeadlineExceeded, core.KindTransient},
		{"other", errors.New("boom"), core.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("select", store.TableExpenses, tt.err)
			assert.Equal(t, tt.want, core.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
