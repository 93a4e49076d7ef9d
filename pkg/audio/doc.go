// Package audio is an umbrella for audio-related sub-packages.
//
//   - jitter: reorder buffer for timestamped audio frames arriving out of order
package audio
