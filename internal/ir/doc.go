// Package ir provides the value types shared by every layer of tuplex.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the value model the
// foundational layer with no circular dependencies.
//
// Three shapes of data move through the system:
//   - Value: one typed field value (Null, String, Int, Bool)
//   - Row: typed field values in schema field order (what callers see)
//   - Tuple: the engine-native record, a table tag plus ordered values with
//     the primary key at position 0 (what the storage engine sees)
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Values are compared with Compare, which defines a total order across kinds
//   - All JSON produced for traces goes through MarshalCanonical
package ir
