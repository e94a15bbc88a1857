// Package stability implements the per-test result history used to judge how
// stable a test is across builds.
//
// A History is a fixed-capacity circular buffer of Results. Inserting past
// capacity evicts the oldest result. All metrics are recomputed from the live
// entries on every call:
//   - Stability: percentage of retained results that passed
//   - Flakiness: percentage of adjacent result pairs whose status differs
//   - Regression: the two most recent results went from passed to failed
//
// Histories form a tree that mirrors the test hierarchy (root, suite, class,
// case). A parent owns its children; the child keeps only a weak link back to
// its parent. ReconcileFilteredChildren lets the root discount failures that
// came from tests hidden by a filter for the build being recorded.
//
// Encode and Decode convert a History's physical ring state to the compact
// four-field Record stored with each build. The layout is positional and has
// no version field, so it must stay readable by older builds' data.
package stability
