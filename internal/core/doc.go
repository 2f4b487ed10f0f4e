// Package core loads fixed-width appraisal-roll exports into a relational
// store.
//
// This package holds the load logic independent of any transport. It is used
// by the CLI, the HTTP API and the scheduler without modification.
//
// # Architecture
//
//   - Layouts: a [layout.Catalog] describes every file type of an export and
//     the table each one loads into.
//   - Service: the entry point. [Service.LoadFile] loads one file type,
//     [Service.Load] and [Service.StartRun] load a set of them in dependency
//     order.
//   - Loader: the streaming insert-with-fallback protocol in [Loader.Load].
//   - Observability: every component reports through an [observe.Reporter]
//     passed in [Options]; nothing here writes to a global logger except run
//     lifecycle messages.
//
// # Load Order
//
// File types load in [LoadPriority] order so lookup tables exist before the
// tables that reference them. [Tiers] groups that order into sets with no
// dependencies between members; with [Options.Parallelism] above one the
// members of a tier load concurrently.
//
// # Streaming Load
//
// Memory use is bounded by one batch regardless of file size:
//
//  1. The source file is located and opened, decompressing if needed
//  2. The destination table is truncated when the run asks for it
//  3. A scanner decodes lines lazily; the loader pulls records into a batch
//  4. Each batch is inserted in one transaction, falling back to one
//     transaction per row when the batch fails
//  5. The outcome is written to the load log after the session is released
//
// # Error Handling
//
// Technical errors are mapped to operator-facing messages using [MapError].
// The code is stored on each Failed [LoadResult]:
//
//   - DB001-DB009: store errors (constraints, connectivity, missing tables)
//   - FILE001-FILE007: source and layout errors
//   - RUN001-RUN005: run orchestration and request errors
package core
