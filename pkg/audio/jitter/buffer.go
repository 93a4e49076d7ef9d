package jitter

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// gapEpsilon is the smallest gap between consecutive frames that is
// considered a real loss rather than clock noise. It is picked smaller
// than the shortest Opus frame (2.5ms) and larger than typical jitter in
// the millisecond timestamps carried on the wire.
const gapEpsilon = 2 * time.Millisecond

// defaultMaxDuration bounds how much audio the buffer will hold before it
// starts dropping the oldest frame to make room for newer ones.
const defaultMaxDuration = 2 * time.Minute

// ErrDisorderedPacket is returned by [Buffer.Append] when a frame's
// timestamp is strictly before the buffer's tail — i.e. before the end of
// the most recently dequeued frame.
var ErrDisorderedPacket = errors.New("jitter: disordered packet")

// ErrEndOfStream is returned by [Buffer.Next] when the buffer is empty.
var ErrEndOfStream = errors.New("jitter: end of stream")

type stampedFrame struct {
	stamp EpochMillis
	frame Frame
}

func (f stampedFrame) endStamp() EpochMillis {
	return f.stamp + FromDuration(f.frame.Duration)
}

type frameHeap []stampedFrame

func (h frameHeap) Len() int           { return len(h) }
func (h frameHeap) Less(i, j int) bool { return h[i].stamp < h[j].stamp }
func (h frameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *frameHeap) Push(x any) { *h = append(*h, x.(stampedFrame)) }

func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Buffer reorders timestamped audio frames so they can be consumed in
// non-decreasing timestamp order. It is backed by a min-heap ordered by
// the millisecond timestamp each frame was stamped with.
//
// Gaps it cannot reorder away (a frame so late it would never arrive, or
// one evicted to respect MaxDuration) are reported honestly to the
// consumer via the loss duration returned from [Buffer.Next]; the buffer
// makes no attempt at concealment.
type Buffer struct {
	// MaxDuration bounds total buffered audio. Zero means
	// [defaultMaxDuration] (2 minutes).
	MaxDuration time.Duration

	mu       sync.Mutex
	heap     frameHeap
	tail     EpochMillis   // end timestamp of the last frame returned by Next
	buffered time.Duration // sum of Duration over buffered frames
}

// NewBuffer creates an empty jitter buffer. maxDuration <= 0 uses the
// default of 2 minutes.
func NewBuffer(maxDuration time.Duration) *Buffer {
	return &Buffer{MaxDuration: maxDuration}
}

func (b *Buffer) maxDuration() time.Duration {
	if b.MaxDuration <= 0 {
		return defaultMaxDuration
	}
	return b.MaxDuration
}

// Append adds a frame stamped with ts to the buffer. Frames may arrive out
// of order relative to each other; they will be reordered by Next.
//
// Append rejects — with [ErrDisorderedPacket] — a frame whose timestamp is
// strictly before the buffer's tail (the end of the last frame Next
// returned). If the total buffered duration exceeds MaxDuration after the
// insert, the oldest buffered frame is evicted: a gap too large to carry
// is treated the same as packet loss.
func (b *Buffer) Append(frame Frame, ts EpochMillis) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ts < b.tail {
		return ErrDisorderedPacket
	}

	heap.Push(&b.heap, stampedFrame{stamp: ts, frame: frame.clone()})
	b.buffered += frame.Duration

	for b.buffered > b.maxDuration() && b.heap.Len() > 0 {
		evicted := heap.Pop(&b.heap).(stampedFrame)
		b.buffered -= evicted.frame.Duration
	}

	return nil
}

// Next returns the next frame in timestamp order.
//
// If the earliest buffered frame starts more than the gap epsilon after
// the buffer's tail, Next does not return that frame yet: it reports the
// gap as loss and advances the tail to the frame's start, signalling the
// consumer to treat the interval as dropped audio. Otherwise it pops the
// frame, advances the tail to the frame's end, and returns it with zero
// loss. While the tail is zero (a new or reset buffer) no gap is reported.
//
// Next returns [ErrEndOfStream] when the buffer holds nothing.
func (b *Buffer) Next() (frame Frame, loss time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.heap.Len() == 0 {
		return Frame{}, 0, ErrEndOfStream
	}

	first := b.heap[0]
	if gap := first.stamp - b.tail; b.tail > 0 && gap > FromDuration(gapEpsilon) {
		b.tail = first.stamp
		return Frame{}, gap.Duration(), nil
	}

	heap.Pop(&b.heap)
	b.buffered -= first.frame.Duration
	b.tail = first.endStamp()
	return first.frame, 0, nil
}

// Reset clears the buffer and the tail pointer, as if it were newly
// created.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heap = nil
	b.tail = 0
	b.buffered = 0
}

// Len returns the number of frames currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.heap.Len()
}

// Buffered returns the total duration of audio currently buffered.
func (b *Buffer) Buffered() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffered
}
