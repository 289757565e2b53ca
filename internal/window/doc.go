// Package window turns one time range into a complete, gap-free sequence of
// sub-fetches against a single relay.
//
// A relay caps every response at its advertised limit, so a saturated range
// is split at its midpoint and both halves are pushed onto an explicit LIFO
// stack, earlier half on top. The traversal terminates either when every
// leaf range comes back under the limit or when a range narrows to the
// configured floor width, at which point the partial result is accepted and
// flagged rather than recursed into forever.
//
// Windows are half-open [start, end) unix seconds; a timestamp equal to a
// split midpoint belongs to the upper half.
package window
