// Package nostr holds the wire-adjacent data model the sync engine depends
// on: events, request filters, and content-addressed hashing of metadata
// documents. It deliberately knows nothing about transports or storage.
package nostr
