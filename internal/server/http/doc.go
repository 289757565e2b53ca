// Package httpserver exposes the operational endpoint: liveness, cycle
// status, and pprof. It serves no user-facing API.
package httpserver
