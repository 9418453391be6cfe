// Package diagnostics holds the workspace-wide diagnostic state.
//
// The Store keeps, for every file, at most one entry per adapter. Each entry
// carries the generation of the invocation that produced it; older
// generations never overwrite newer ones. After every change the merged
// diagnostics of the file are handed to a core.Publisher.
//
// Mutations of a single file are serialized by a per-file lock, so updates
// for different files never contend with each other.
package diagnostics
