// Package adapter orchestrates structured CRUD and bulk operations over a
// transactional tuple storage engine.
//
// The engine offers only single-tuple primitives (select, insert, update,
// delete, next sequence value) and a transaction wrapper. The adapter
// composes them:
//
//	Prepare(kind, shape) → Descriptor (cached, immutable)
//	Fetch / DeleteAll / UpdateAll(descriptor, params) → Result
//	Insert / InsertAll / Update / Delete(table, values, filter)
//	Transaction(fn), InTransaction(ctx), Rollback(reason)
//
// # Transactions
//
// DeleteAll, UpdateAll and InsertAll always run in one transaction, so a
// failure on any row leaves no effect of the batch. Single-row operations
// run on their own unless ctx belongs to a transaction.
//
// Membership is explicit: Transaction passes a context carrying the open
// transaction to its function, and every operation given that context joins
// it. There is no ambient or global transaction state, so independent
// transactions can run side by side.
//
// # Ordering and limits
//
// The limit of a query bounds the engine scan. Ordering is applied to the
// decoded rows afterwards. A query with both returns the first N tuples in
// engine scan order, sorted; it is not a top-N query.
//
// # Errors
//
//   - *ConstraintError: duplicate primary key on insert (recoverable)
//   - *TxAbortError: transaction rolled back, by Rollback or by a failure
//   - *PreconditionError: raised with panic when a keyed update or delete
//     has no primary key in its filter
//   - anything else: engine failure, wrapped with the operation and table
package adapter
