// Package analysis implements the per-session websocket connector to the
// external emotion-analysis service. It handles the init handshake, media
// forwarding, verbatim relay of service messages back to the originating
// client, and the bounded wait for a final result during finalize.
package analysis
