// Package store is the SQLite storage engine behind the adapter.
//
// It stores each schema table as a SQL table whose columns follow the schema
// field order, so a stored tuple is one row read back column by column. The
// engine offers only primitive operations:
//   - Select: scan tuples matching a compiled predicate, bounded by a limit
//   - Insert: store a new tuple (ErrAlreadyExists on a duplicate key)
//   - Update: replace the whole tuple at a key (ErrNotFound when absent)
//   - Delete: remove the tuple at a key (absent keys are fine)
//   - NextSequence: hand out the next integer key of a table
//
// Multi-row work composes these inside RunInTx, which commits or rolls back
// as a unit.
//
// # Critical Patterns
//
// Parameterized SQL: every value, including the scan limit, is bound as a
// parameter. Identifiers come from validated schema names only.
//
// Scan order: Select orders by rowid, which is insertion order. The limit
// applies to that scan; application-side ordering happens later.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout: Wait for locks (Options.BusyTimeout, default 5 seconds)
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: transactions are serialized
package store
