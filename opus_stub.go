//go:build !opus
// +build !opus

package main

import (
	"fmt"
	"log"
)

// OpusDecoderWrapper wraps the Opus decoder (stub version without Opus support)
type OpusDecoderWrapper struct {
	enabled bool
}

// NewOpusDecoder creates a stub decoder when Opus is not compiled in
func NewOpusDecoder(sampleRate int) *OpusDecoderWrapper {
	log.Printf("WARNING: Opus payloads configured but Opus support not compiled in")
	log.Printf("To enable Opus support: sudo apt install libopus-dev libopusfile-dev pkg-config")
	log.Printf("Then rebuild with: go build -tags opus")
	log.Printf("Opus RTP payloads will be dropped.")
	return &OpusDecoderWrapper{enabled: false}
}

// Decode always fails in the stub version
func (w *OpusDecoderWrapper) Decode(payload []byte) ([]float32, error) {
	return nil, fmt.Errorf("opus support not compiled in")
}

// IsEnabled always returns false in the stub version
func (w *OpusDecoderWrapper) IsEnabled() bool {
	return false
}
