// Package audio handles live sample ingestion and PCM conversion.
// It provides the lock-protected ring buffer fed by the audio producer, the pass-through
// output gain, and WAV encoding/decoding for recorded input.
package audio
