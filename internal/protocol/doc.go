// Package protocol implements the binary packet format used to stream audio into the service.
// It handles header parsing, start/audio/stop payload extraction and packet encoding.
package protocol
