// Package mocks provides shared in-memory implementations of the store
// interfaces for tests.
//
// Import the package in a test file instead of defining an inline fake:
//
//	reports := mocks.NewReportStore(domain.NewReport(id, "proj-1"))
//	orch, err := report.NewOrchestrator(reports, ...)
//	...
//	assert.Len(t, reports.Progress(), 3)
package mocks
