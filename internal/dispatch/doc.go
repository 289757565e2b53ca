// Package dispatch fans sync tasks out across bounded parallel execution
// units.
//
// Endpoints are partitioned across P units; each unit runs up to M tasks
// concurrently, so at most P*M sessions are in flight. A randomized startup
// stagger plus a shared dial-rate limiter keep cycle start from bursting
// connections at the whole relay population at once. Results stream to the
// consumer over a bounded channel. One task's failure never touches another;
// a crashed task is requeued into a final sequential pass, which the storage
// layer's idempotence makes safe.
package dispatch
