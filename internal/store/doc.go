// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic, allowing business rules to remain
// independent of specific database technologies or persistence details.
//
// The job store is the only cross-process coordination point of the worker:
// claims are single conditional updates executed by the database.
package store
