// Package store is the statement bridge: it owns one engine handle per
// connection and turns SQL text plus typed parameters into result sets.
//
// # Connection discipline
//
// Every operation on a Conn runs under its mutex. The engine's change
// counters (changes(), last_insert_rowid()) are connection-global, so they
// are read inside the same critical section as the statement that
// produced them. Multi-step work (transactions, reactive re-evaluation)
// uses Conn.Do to hold the lock across several statements.
//
// # Change hooks
//
// The engine's update hook is registered only while a ChangeHandler is
// installed. The hook itself only records ChangeEvents; they are handed
// to the handler after the statement that produced them completes, still
// under the connection mutex, so handlers may run queries on the Session
// they receive and observe the write that triggered them.
//
// # Result shapes
//
//   - ModeRows: row objects sharing one column table, plus metadata
//   - ModeRaw: row-major value arrays, no metadata
//   - ModeNone: no rows, only the change counters
package store
