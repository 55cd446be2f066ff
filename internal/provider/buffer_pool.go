package provider

import (
	"bytes"
	"sync"
)

// bufferPool reuses byte buffers for request bodies. Prompts carry unit
// context and can reach a few KB each, so reuse keeps allocation flat across
// a long generation run.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns a buffer to the pool. Oversized buffers are dropped so
// one huge prompt does not pin memory for the rest of the run.
func putBuffer(buf *bytes.Buffer) {
	const maxBufferSize = 64 * 1024
	if buf.Cap() <= maxBufferSize {
		bufferPool.Put(buf)
	}
}
