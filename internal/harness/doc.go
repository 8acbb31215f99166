// Package harness runs scripted adapter scenarios and checks their outcomes.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: users_basic
//	description: "Sequence keys, ordered fetch, bulk update"
//	schema: |
//	  tables: users: {
//	    key:    "id"
//	    policy: "sequence"
//	    fields: [{name: "id", type: "int"}, {name: "age", type: "int"}]
//	  }
//	steps:
//	  - op: insert
//	    table: users
//	    values: {age: 30}
//	    expect:
//	      values: {id: 1}
//	  - op: fetch
//	    table: users
//	    where: "age > $min"
//	    order: "-age"
//	    params: {min: 20}
//	    expect:
//	      count: 1
//	  - op: transaction
//	    rollback: "undo"
//	    steps:
//	      - op: delete
//	        table: users
//	        filter: {id: 1}
//	    expect:
//	      error: tx_aborted
//	assertions:
//	  - type: row_count
//	    table: users
//	    count: 1
//
// A step without expect must succeed. With expect.error, the step must fail
// with that error class: constraint, not_found, precondition, shape,
// tx_aborted, or error (any).
//
// # Determinism
//
// Every run uses a fresh in-memory database, and identifier keys come from
// the scenario's keys list or a counter. The trace records error classes, not
// messages, so it can be compared against golden files byte for byte.
package harness
