// Package task runs generate_report jobs from the shared job table. Workers
// claim queued jobs by polling or on wake-up notifications, hand them to a
// ReportGenerator and record the terminal state; a monitor returns jobs
// abandoned by crashed workers to the queue.
package task
