package store

import (
	"errors"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var numbered = Dialect{
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Contains:    func(col, ph string) string { return col + " ? " + ph },
}

func TestBuildSelect(t *testing.T) {
	q := Query{
		Table:   TableExpenses,
		Filters: []Filter{Eq("owner", "alice"), IsNull("group_id")},
		Order:   []Order{{Column: "date", Desc: true}},
		Limit:   10,
	}
	sql, args, err := BuildSelect(q, SQLiteDialect)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "owner", "group_id", "amount", "date", "category_id", "title", "payment_method" FROM "expenses" WHERE "owner" = ? AND "group_id" IS NULL ORDER BY "date" DESC LIMIT 10`, sql)
	assert.Equal(t, []any{"alice"}, args)
}

func TestBuildSelectInAndContains(t *testing.T) {
	sql, args, err := BuildSelect(Query{
		Table:   TableCategories,
		Filters: []Filter{In("owner", "a", "b")},
	}, numbered)
	require.NoError(t, err)
	assert.Contains(t, sql, `WHERE "owner" IN ($1, $2)`)
	assert.Equal(t, []any{"a", "b"}, args)

	sql, _, err = BuildSelect(Query{Table: TableCategories, Filters: []Filter{In("owner")}}, numbered)
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE 1 = 0")

	sql, args, err = BuildSelect(Query{Table: TableGroups, Filters: []Filter{Contains("members", "a")}}, SQLiteDialect)
	require.NoError(t, err)
	assert.Contains(t, sql, `json_each("members")`)
	assert.Equal(t, []any{"a"}, args)
}

func TestBuildSelectRejectsUnknownColumn(t *testing.T) {
	_, _, err := BuildSelect(Query{Table: TableExpenses, Filters: []Filter{Eq("drop table", "x")}}, SQLiteDialect)
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	_, _, err = BuildSelect(Query{Table: "nope"}, SQLiteDialect)
	assert.Error(t, err)
}

func TestBuildInsertAndUpdate(t *testing.T) {
	row := Row{"id": "g1", "owner": "alice", "name": "Home", "members": []string{"alice", "bob"}}
	sql, args, err := BuildInsert(TableGroups, row, numbered)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "groups" ("id", "owner", "name", "members") VALUES ($1, $2, $3, $4)`, sql)
	assert.Equal(t, []any{"g1", "alice", "Home", `["alice","bob"]`}, args)

	sql, args, err = BuildUpdate(TableExpenses, "e1", Row{"id": "e1", "amount": decimal.RequireFromString("12.50")}, numbered)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "expenses" SET "amount" = $1 WHERE "id" = $2`, sql)
	assert.Equal(t, []any{"12.5", "e1"}, args)

	_, _, err = BuildInsert(TableExpenses, Row{"bogus": 1}, numbered)
	assert.ErrorIs(t, err, ErrUnknownColumn)
}
