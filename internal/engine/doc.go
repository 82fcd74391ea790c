// Package engine classifies firmware against a vulnerability catalog.
//
// An Engine binds a firmware root (an extracted system image), its build
// properties and a loaded catalog. Each vulnerability is classified by
// evaluating its three logic trees:
//
//	notAffected True            -> N
//	vulnerable/fixed unknown    -> _
//	fixed True, vulnerable False -> T
//	fixed False, vulnerable True -> D when the patch level claims the fix, else F
//	anything else               -> _
//
// RunAll spreads the catalog over a fixed worker pool. Workers never share
// caches: each owns a reference cache and per-binary symbol caches, and
// the firmware tree is read-only, so no locking is needed beyond result
// collection.
//
// Atomic tests only ever read below <root>/system. Paths outside it, or
// containing "..", make the test unknown.
package engine
