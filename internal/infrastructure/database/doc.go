// Package database owns the SQLite connection behind the address
// table: WAL journaling, busy timeout, a pinned single-writer
// connection, and forward-only embedded schema migrations applied at
// startup.
package database
