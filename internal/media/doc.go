// Package media implements bounded local retention of binary media chunks.
// The buffer is a sliding window: growth past the configured cap trims to
// the newest retained tail, never to unbounded storage.
package media
