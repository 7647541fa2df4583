// Package pipes implements the task side of the pipes protocol: a framed,
// command-oriented stream between a worker process and the framework that
// drives it.
//
// The framework writes down commands (START_MESSAGE, SET_JOB_CONF, RUN_MAP,
// MAP_ITEM, RUN_REDUCE, REDUCE_KEY, REDUCE_VALUE, CLOSE, ABORT, ...) and the
// task answers with up commands (OUTPUT, STATUS, PROGRESS, DONE, counters).
// A DownStreamAdapter reads and validates the down stream; the map phase is
// consumed through a KeyValueStream and the reduce phase through a
// KeyValuesStream, which groups REDUCE_VALUE commands under their REDUCE_KEY
// using a PushBackStream as the shared cursor. Results go out through an
// UpStreamAdapter.
//
// Byte-level encoding lives behind CommandSource and CommandSink; the cbor
// subpackage provides the default codec.
//
// Nothing here is safe for concurrent use. One goroutine owns a stream for the
// lifetime of a task attempt.
package pipes
