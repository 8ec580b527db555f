package generation

import (
	"strings"
)

// sentence boundary runes, latin and CJK
const boundaryRunes = ".!?…\n。！？"

// Chunker accumulates streamed fragments and flushes sentence-ish buffers.
// A buffer is flushed once it ends on a sentence boundary and has reached
// the minimum length.
type Chunker struct {
	minLen int
	buf    strings.Builder
}

// NewChunker creates a chunker with the given minimum flush length
func NewChunker(minLen int) *Chunker {
	if minLen <= 0 {
		minLen = 1
	}
	return &Chunker{minLen: minLen}
}

// Feed appends a fragment and returns any buffers ready to emit
func (c *Chunker) Feed(fragment string) []string {
	var flushed []string
	for _, r := range fragment {
		c.buf.WriteRune(r)
		if strings.ContainsRune(boundaryRunes, r) && c.buf.Len() >= c.minLen {
			flushed = append(flushed, c.buf.String())
			c.buf.Reset()
		}
	}
	return flushed
}

// Flush returns whatever remains in the buffer
func (c *Chunker) Flush() string {
	rest := c.buf.String()
	c.buf.Reset()
	return rest
}
