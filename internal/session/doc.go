// Package session provides the session registry and lifecycle management
// for the relay: admission with displacement of stale sessions, media
// routing, the graceful finalize sequence with its bounded result wait,
// and deferred purge of terminal sessions via a single expiry scheduler.
package session
