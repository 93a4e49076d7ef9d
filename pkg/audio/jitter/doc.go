// Package jitter provides a reorder buffer for timestamped audio frames
// arriving over an unordered transport (UDP, BLE, best-effort websockets).
//
// It is the ASR-facing counterpart to [recall]: before a stream of audio
// frames can be handed to a speech recognizer, frames that arrived out of
// network order must be put back into timestamp order. The buffer is a
// min-heap keyed by each frame's millisecond timestamp; gaps it cannot
// explain are reported to the caller as loss rather than papered over.
package jitter
