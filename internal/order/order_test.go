package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/queryir"
	"github.com/roach88/tuplex/internal/querysql"
	"github.com/roach88/tuplex/internal/schema"
)

func usersContext() *querysql.Context {
	return querysql.NewContext(schema.MustTable("users", []schema.Field{
		{Name: "id", Type: schema.TypeInt},
		{Name: "name", Type: schema.TypeString},
		{Name: "age", Type: schema.TypeInt},
	}, "id", schema.Sequence{}))
}

func row(id int64, name string, age int64) ir.Row {
	return ir.Row{ir.Int(id), ir.String(name), ir.Int(age)}
}

func TestNew_EmptyIsIdentity(t *testing.T) {
	fn, err := New(usersContext(), nil)
	require.NoError(t, err)

	rows := []ir.Row{row(2, "B", 25), row(1, "A", 30)}
	assert.Equal(t, []ir.Row{row(2, "B", 25), row(1, "A", 30)}, fn(rows))
}

func TestNew_Ascending(t *testing.T) {
	fn, err := New(usersContext(), []queryir.OrderBy{{Field: "age"}})
	require.NoError(t, err)

	got := fn([]ir.Row{row(1, "A", 30), row(2, "B", 25)})
	assert.Equal(t, []ir.Row{row(2, "B", 25), row(1, "A", 30)}, got)
}

func TestNew_Descending(t *testing.T) {
	fn, err := New(usersContext(), []queryir.OrderBy{{Field: "name", Desc: true}})
	require.NoError(t, err)

	got := fn([]ir.Row{row(1, "A", 30), row(3, "C", 1), row(2, "B", 25)})
	assert.Equal(t, []ir.Row{row(3, "C", 1), row(2, "B", 25), row(1, "A", 30)}, got)
}

func TestNew_StableAcrossTies(t *testing.T) {
	fn, err := New(usersContext(), []queryir.OrderBy{{Field: "age"}})
	require.NoError(t, err)

	got := fn([]ir.Row{row(5, "E", 40), row(3, "C", 20), row(4, "D", 40), row(1, "A", 20)})
	assert.Equal(t, []ir.Row{row(3, "C", 20), row(1, "A", 20), row(5, "E", 40), row(4, "D", 40)}, got)
}

func TestNew_MultipleKeys(t *testing.T) {
	fn, err := New(usersContext(), []queryir.OrderBy{{Field: "age"}, {Field: "name", Desc: true}})
	require.NoError(t, err)

	got := fn([]ir.Row{row(1, "A", 20), row(2, "B", 20), row(3, "C", 10)})
	assert.Equal(t, []ir.Row{row(3, "C", 10), row(2, "B", 20), row(1, "A", 20)}, got)
}

func TestNew_NullsSortFirst(t *testing.T) {
	fn, err := New(usersContext(), []queryir.OrderBy{{Field: "age"}})
	require.NoError(t, err)

	withNull := ir.Row{ir.Int(9), ir.String("N"), ir.Null{}}
	got := fn([]ir.Row{row(1, "A", 20), withNull})
	assert.Equal(t, []ir.Row{withNull, row(1, "A", 20)}, got)
}

func TestNew_UnknownField(t *testing.T) {
	_, err := New(usersContext(), []queryir.OrderBy{{Field: "email"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"email"`)
}

func TestFunc_EmptyBatch(t *testing.T) {
	fn, err := New(usersContext(), []queryir.OrderBy{{Field: "age"}})
	require.NoError(t, err)
	assert.Empty(t, fn(nil))
}
