/*
Package metrics defines Prometheus metrics for the Palisade security layer.

Metrics cover configuration lifecycle (snapshot generation, reloads, writes),
cluster broadcasts, per-request authorization outcomes, HTTP traffic counters
and Raft cluster state. The HTTP byte counters are updated on every completed
request regardless of allow/deny outcome, so they never remain at zero once
any request has been served.

All metrics are registered at package init. Handler exposes them for the
/metrics endpoint.
*/
package metrics
