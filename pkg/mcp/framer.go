package mcp

import (
	"bytes"
	"encoding/json"
)

// DefaultMaxLineSize bounds a single inbound frame.
const DefaultMaxLineSize = 4 * 1024 * 1024

// LineDecoder reassembles newline-delimited JSON frames from arbitrarily
// chunked input. It keeps the trailing partial line between calls to Feed.
// A LineDecoder is not safe for concurrent use; each transport owns one.
type LineDecoder struct {
	buf        []byte
	maxLine    int
	discarding bool // current line overflowed maxLine; drop until next newline

	// OnInvalid, if set, is called for every complete line that is not valid JSON.
	OnInvalid func(line []byte, reason string)
}

// NewLineDecoder returns a decoder that drops lines longer than maxLine bytes
// (DefaultMaxLineSize if maxLine <= 0).
func NewLineDecoder(maxLine int) *LineDecoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &LineDecoder{maxLine: maxLine}
}

// Feed appends chunk to the carry-over buffer and returns every complete frame
// it now contains. Returned frames do not alias the decoder's buffer.
func (d *LineDecoder) Feed(chunk []byte) []json.RawMessage {
	var frames []json.RawMessage

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.appendPartial(chunk)
			break
		}
		d.appendPartial(chunk[:i])
		chunk = chunk[i+1:]

		if d.discarding {
			d.discarding = false
			d.buf = d.buf[:0]
			continue
		}
		if f, ok := d.takeLine(); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// Flush returns the buffered partial line as a frame if it is complete JSON.
// It is called once the stream has ended, for servers that omit the final newline.
func (d *LineDecoder) Flush() (json.RawMessage, bool) {
	if d.discarding {
		d.discarding = false
		d.buf = d.buf[:0]
		return nil, false
	}
	return d.takeLine()
}

// Buffered returns the number of bytes held for an incomplete line.
func (d *LineDecoder) Buffered() int { return len(d.buf) }

func (d *LineDecoder) appendPartial(p []byte) {
	if d.discarding {
		return
	}
	if len(d.buf)+len(p) > d.maxLine {
		d.invalid(d.buf, "line exceeds maximum size")
		d.buf = d.buf[:0]
		d.discarding = true
		return
	}
	d.buf = append(d.buf, p...)
}

func (d *LineDecoder) takeLine() (json.RawMessage, bool) {
	line := bytes.TrimSpace(d.buf)
	defer func() { d.buf = d.buf[:0] }()

	if len(line) == 0 {
		return nil, false
	}
	if !json.Valid(line) {
		d.invalid(line, "invalid JSON")
		return nil, false
	}
	frame := make(json.RawMessage, len(line))
	copy(frame, line)
	return frame, true
}

func (d *LineDecoder) invalid(line []byte, reason string) {
	if d.OnInvalid != nil {
		d.OnInvalid(line, reason)
	}
}
