// Package queryir describes the shape of a structured query: which table it
// reads, how rows are filtered, how results are ordered, how many tuples the
// engine scan may return, and (for update-all) which field updates apply.
//
// QueryIR is the boundary between callers and the selection compiler:
//
//	[caller] → [QueryIR shape] → [querysql: engine-native predicate]
//
// A shape carries no runtime values. Parameters (Param operands and
// LimitParam) are bound later, when a prepared descriptor is executed, so one
// prepared shape serves many executions.
//
// SEALED INTERFACES:
//
// Predicate, Operand and Update are sealed interfaces using the marker method
// pattern. Only types in this package implement them, which keeps type
// switches in the compiler exhaustive.
//
// ORDERING AND LIMIT:
//
// Limit constrains the engine scan; OrderBy is applied to the decoded rows
// afterwards. A limited, ordered query therefore returns the first N tuples
// in engine scan order, sorted - not the top N by the ordering.
package queryir
