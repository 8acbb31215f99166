package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tuplex/internal/ir"
	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
)

func TestFixtures(t *testing.T) {
	assert.Equal(t, "id", UsersTable().Key)
	assert.Equal(t, schema.Sequence{}, UsersTable().Policy)
	assert.Equal(t, schema.NoAutogenerate{}, TagsTable().Policy)
	assert.Equal(t, schema.Identifier{Format: schema.FormatKSUID}, DocsTable(schema.FormatKSUID).Policy)

	reg := NewRegistry(t, UsersTable(), TagsTable())
	_, ok := reg.Lookup("tags")
	assert.True(t, ok)
}

func TestOpenStore(t *testing.T) {
	s := OpenStore(t, UsersTable())
	n, err := s.NextSequence(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFaultyEngine_FailsNthCall(t *testing.T) {
	ctx := context.Background()
	f := NewFaultyEngine(OpenStore(t, TagsTable()))
	tags := TagsTable()

	tuple := func(slug string) ir.Tuple {
		return ir.Tuple{Table: "tags", Values: []ir.Value{ir.String(slug), ir.Null{}, ir.Null{}}}
	}

	f.FailAt(OpInsert, 2)
	require.NoError(t, f.Insert(ctx, tags, tuple("a")))
	assert.True(t, errors.Is(f.Insert(ctx, tags, tuple("b")), ErrInjected))
	require.NoError(t, f.Insert(ctx, tags, tuple("c")))
	assert.Equal(t, 3, f.Calls(OpInsert))
}

func TestFaultyEngine_CountsInsideTransactions(t *testing.T) {
	ctx := context.Background()
	f := NewFaultyEngine(OpenStore(t, TagsTable()))
	tags := TagsTable()

	f.FailAt(OpDelete, 2)
	err := f.RunInTx(ctx, func(c store.Conn) error {
		if err := c.Delete(ctx, tags, ir.String("x")); err != nil {
			return err
		}
		return c.Delete(ctx, tags, ir.String("y"))
	})
	assert.True(t, errors.Is(err, ErrInjected))
	assert.Equal(t, 1, f.Calls(OpRunInTx))
	assert.Equal(t, 2, f.Calls(OpDelete))
	assert.Equal(t, 3, f.Total())
}

func TestConstantKeyGenerator(t *testing.T) {
	g := NewConstantKeyGenerator("k")
	assert.Equal(t, "k", g.Generate())
	assert.Equal(t, "k", g.Generate())
	assert.Equal(t, "test-key-default", NewConstantKeyGenerator("").Generate())
}
