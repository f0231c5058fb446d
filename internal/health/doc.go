// Package health provides the probes behind /-/healthy and /-/ready and the
// plain-text handlers that serve them.
//
// Probes compose with [All]. [Running] turns a component's done channel into
// a probe so a dead background sweep shows up as not ready. [ShutdownGate]
// fails readiness as soon as shutdown starts, so load balancers stop routing
// before in-flight requests are drained.
package health
