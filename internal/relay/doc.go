// Package relay opens client sessions against remote relays and exchanges
// fetch requests for event streams.
//
// Transport selection is address-driven: hidden-network relays route through
// a SOCKS5 proxy with a longer timeout tier, everything else dials directly.
// Per-relay overrides from configuration win over both.
package relay
