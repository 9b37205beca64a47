// Package postgres provides PostgreSQL-specific implementations of the job
// and report stores defined in the internal/store package. Queries go through
// database/sql with the pgx stdlib driver; the schema is embedded and applied
// with goose.
package postgres
