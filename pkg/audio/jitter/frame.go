package jitter

import "time"

// Frame is one timestamped chunk of encoded audio (e.g. a single Opus
// packet). The buffer never looks inside Data; Duration is supplied by the
// caller because decoding a frame's length from its own bytes is a codec
// concern, not a reordering concern.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// clone returns a copy of f whose Data is independent of the caller's buffer.
func (f Frame) clone() Frame {
	cp := make([]byte, len(f.Data))
	copy(cp, f.Data)
	return Frame{Data: cp, Duration: f.Duration}
}
