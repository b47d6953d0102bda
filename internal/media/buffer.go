package media

import (
	"sync"
)

// Buffer retains the most recent binary media chunks for one session.
// Chunks are kept in insertion order; once the chunk count exceeds the
// configured cap the buffer is trimmed to the newest retain-window so
// memory stays bounded regardless of stream length.
type Buffer struct {
	maxChunks    int
	retainChunks int

	chunks     [][]byte
	received   uint64 // total chunks ever appended
	totalBytes uint64

	mu sync.Mutex
}

// BufferStats represents buffer state for monitoring.
type BufferStats struct {
	BufferedChunks int    `json:"buffered_chunks"`
	ReceivedChunks uint64 `json:"received_chunks"`
	TotalBytes     uint64 `json:"total_bytes"`
}

// NewBuffer creates a bounded chunk buffer. retainChunks must be smaller
// than maxChunks; callers get that guarantee from config validation.
func NewBuffer(maxChunks, retainChunks int) *Buffer {
	return &Buffer{
		maxChunks:    maxChunks,
		retainChunks: retainChunks,
		chunks:       make([][]byte, 0, retainChunks),
	}
}

// Append stores a copy of the chunk and trims the window when the cap is
// exceeded. The copy matters: websocket read buffers are reused by the
// caller.
func (b *Buffer) Append(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, chunk)
	b.received++
	b.totalBytes += uint64(len(chunk))

	if len(b.chunks) > b.maxChunks {
		keepFrom := len(b.chunks) - b.retainChunks
		b.chunks = append(b.chunks[:0], b.chunks[keepFrom:]...)
	}
}

// Len returns the number of chunks currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Received returns the total number of chunks ever appended, independent
// of trimming.
func (b *Buffer) Received() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received
}

// Chunks returns a snapshot of the buffered chunks in insertion order.
func (b *Buffer) Chunks() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Stats returns current buffer statistics.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		BufferedChunks: len(b.chunks),
		ReceivedChunks: b.received,
		TotalBytes:     b.totalBytes,
	}
}
