// Package testutil provides fixtures for tests that need a real store:
// common tables, a temp-dir SQLite store, and an engine wrapper that injects
// faults into chosen primitive calls.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/tuplex/internal/schema"
	"github.com/roach88/tuplex/internal/store"
)

// UsersTable is users(id int, name string, age int) with a sequence key.
func UsersTable() *schema.Table {
	return schema.MustTable("users", []schema.Field{
		{Name: "id", Type: schema.TypeInt},
		{Name: "name", Type: schema.TypeString},
		{Name: "age", Type: schema.TypeInt},
	}, "id", schema.Sequence{})
}

// TagsTable is tags(slug string, label string, pinned bool) with a
// caller-supplied key.
func TagsTable() *schema.Table {
	return schema.MustTable("tags", []schema.Field{
		{Name: "slug", Type: schema.TypeString},
		{Name: "label", Type: schema.TypeString},
		{Name: "pinned", Type: schema.TypeBool},
	}, "slug", schema.NoAutogenerate{})
}

// DocsTable is docs(id string, title string) with a client-generated key.
func DocsTable(format schema.IDFormat) *schema.Table {
	return schema.MustTable("docs", []schema.Field{
		{Name: "id", Type: schema.TypeString},
		{Name: "title", Type: schema.TypeString},
	}, "id", schema.Identifier{Format: format})
}

// OpenStore opens a store in t's temp dir and creates the given tables.
// The store is closed when the test ends.
func OpenStore(t testing.TB, tables ...*schema.Table) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.CreateTables(context.Background(), tables...); err != nil {
		t.Fatalf("create tables: %v", err)
	}
	return s
}

// NewRegistry registers tables or fails the test.
func NewRegistry(t testing.TB, tables ...*schema.Table) *schema.Registry {
	t.Helper()

	reg, err := schema.NewRegistry(tables...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}
