// Package state tracks the per-relay "synced through" cursor.
//
// Cursors default to now minus the configured lookback on first contact,
// move forward only after a durable commit of a fully-completed window set,
// and never decrease except through an explicit Reset. The whole map is
// persisted as one keyed blob by the storage layer.
package state
