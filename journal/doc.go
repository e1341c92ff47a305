// Package journal persists test results and worker crashes into a SQLite
// database, one run per Open. A file lock next to the database keeps the
// journal single-writer across processes. Bulky per-test payloads (stdout,
// stderr, traceback) are msgpack-encoded into a single detail column so the
// queryable schema stays narrow.
package journal
