// Package gemini provides an implementation of the generation.Generator
// interface backed by Google's Gemini API.
//
// This package is an infrastructure adapter: it translates a
// generation.Request into a streamed GenerateContent call, concatenates the
// streamed chunks into one response and classifies API failures into
// generation error kinds.
//
// Key behaviors:
//
//   - Responses are streamed with GenerateContentStream and only returned
//     once the stream has finished; no partial content leaves the adapter.
//   - Reasoning effort maps onto a thinking token budget.
//   - Safety blocks surface as generation.ErrContentBlocked.
//   - Transient failures are retried through generation.RetryPolicy.
package gemini
