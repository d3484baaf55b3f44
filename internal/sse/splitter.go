// Package sse implements the framing layer of the question-generation
// stream: a sequence of UTF-8 text chunks carrying blank-line-delimited
// frames, where data frames are a "data: " prefix followed by a JSON
// envelope. The package covers both directions: splitting and decoding
// on the consuming side, and frame encoding on the serving side.
package sse

import "strings"

// Delimiter terminates every complete frame.
const Delimiter = "\n\n"

// FrameSplitter reassembles complete frames from an arbitrarily chunked
// text stream. Chunk boundaries carry no meaning: a delimiter may be
// split across chunks and one chunk may complete several frames.
type FrameSplitter struct {
	buf string
}

// Append adds a chunk to the buffer and returns the frames it completed,
// in order. The trailing piece after the last delimiter (possibly empty)
// is retained as the new buffer. No frame is emitted twice and no byte
// is dropped.
func (s *FrameSplitter) Append(chunk string) []string {
	s.buf += chunk
	if !strings.Contains(s.buf, Delimiter) {
		return nil
	}
	parts := strings.Split(s.buf, Delimiter)
	s.buf = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Pending returns the buffered bytes not yet terminated by a delimiter.
func (s *FrameSplitter) Pending() string {
	return s.buf
}

// Reset discards any buffered partial frame.
func (s *FrameSplitter) Reset() {
	s.buf = ""
}
