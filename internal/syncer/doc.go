// Package syncer runs the sync cycle: select eligible relays, dispatch one
// task per relay across the worker pool, stream completed window sets into
// the persistence writer, advance cursors for relays that fully completed,
// save state, and wait for the next interval.
//
// A relay's cursor only moves once every sub-window up to the cycle's start
// instant has been durably committed; any per-relay failure leaves its
// cursor untouched and the relay is retried next cycle from the same spot.
package syncer
