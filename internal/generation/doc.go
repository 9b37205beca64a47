// Package generation defines the boundary between the report pipeline and
// external LLM services: a provider-neutral Generator interface, the closed
// set of providers with a Registry that resolves model identifiers onto
// them, a classified error type shared by every adapter, and the retry
// policy adapters apply to transient failures.
package generation
