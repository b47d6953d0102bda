// Package server hosts the service's network surfaces: the websocket
// acceptor that clients stream sessions over, and the HTTP introspection
// API for health, session listings, configuration, and metrics.
package server
