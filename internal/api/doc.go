// Package api is the admin HTTP surface of the report generator: enqueueing
// generate_report jobs and reading jobs and reports back. Handlers translate
// HTTP concerns into task and store calls and never expose internal errors.
package api
