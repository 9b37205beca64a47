// Package sqlite provides the single-node implementations of the job and
// report stores on modernc.org/sqlite. It shares the claim semantics of the
// PostgreSQL stores: a claim is one conditional UPDATE ... RETURNING, and
// SQLite's writer lock stands in for FOR UPDATE SKIP LOCKED.
package sqlite
