// Package ratelimit gates requests per client identifier using two sliding
// windows: a short burst window and a longer sustained window. A request is
// rejected when either window is already full, and rejected requests are not
// counted against the client.
//
// This is a single-instance, in-memory limiter for basic abuse prevention on
// one server. State is not shared between processes and is lost on restart.
// It does not protect against distributed attacks or bandwidth-bill attacks;
// use an upstream WAF or CDN-level rate limiting for those.
package ratelimit
