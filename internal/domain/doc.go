// Package domain contains the core entities of the report generation worker:
// jobs and their payloads, tagged input images, the hierarchical section tree
// produced by the assembler, reports and token usage. It is independent of
// any specific storage, transport or model provider.
package domain
