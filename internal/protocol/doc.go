// Package protocol defines the wire envelopes exchanged with clients and
// with the emotion-analysis service: control frames, client notification
// frames, and the handshake frames of the outbound analysis leg. It also
// classifies inbound websocket messages into control and media variants.
package protocol
