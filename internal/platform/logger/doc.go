// Package logger configures the process-wide log/slog JSON logger and
// carries request- and job-scoped loggers through a context.Context, so a
// trace_id or job_id attached once appears on every line below it.
package logger
