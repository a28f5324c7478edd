// Package media defines the in-memory artifact model the humanization engine
// operates on, the OMR1 container used to move artifacts between the renderer
// and the pipeline, and energy-based silence detection.
//
// Key types:
//   - Artifact: a video track of raw frames, a mono PCM16 audio track and the
//     speech intervals supplied by the renderer
//   - Interval: a half-open time range in seconds
//
// Primary entry points:
//   - Decode / Encode: stream codec for the OMR1 container
//   - ReadFile / WriteFile: file helpers; WriteFile replaces atomically
//   - DetectSilence: silence gaps from audio energy in 20ms windows
//   - Complement: turn speech intervals into gaps and back
//
// The container has no compression. Codec internals are owned by the
// renderer; this package only needs track-addressable buffers.
package media
