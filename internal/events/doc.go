// Package events carries job lifecycle events between the API, the message
// broker and the job runner without the components depending on each other.
//
// The API emits job_enqueued after inserting a job; a broker publisher
// forwards it to other processes, whose consumers re-emit it locally so the
// runner can claim the job without waiting for its next poll.
package events
