//go:build opus
// +build opus

package main

import (
	"log"

	opus "gopkg.in/hraban/opus.v2"
)

// OpusDecoderWrapper wraps the Opus decoder for the RTP input path
type OpusDecoderWrapper struct {
	decoder *opus.Decoder
	enabled bool
	pcm     []int16
}

// NewOpusDecoder creates an Opus decoder for mono payloads at the given rate
func NewOpusDecoder(sampleRate int) *OpusDecoderWrapper {
	decoder, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		log.Printf("WARNING: Opus payloads configured but decoder failed to initialize: %v", err)
		log.Printf("Opus RTP payloads will be dropped.")
		return &OpusDecoderWrapper{enabled: false}
	}

	log.Printf("Opus decoder initialized: %d Hz mono", sampleRate)
	return &OpusDecoderWrapper{
		decoder: decoder,
		enabled: true,
		pcm:     make([]int16, 5760), // 120 ms at 48 kHz, the maximum Opus frame
	}
}

// Decode decodes one Opus packet to float32 samples in [-1, 1)
func (w *OpusDecoderWrapper) Decode(payload []byte) ([]float32, error) {
	n, err := w.decoder.Decode(payload, w.pcm)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = float32(w.pcm[i]) / 32768.0
	}
	return samples, nil
}

// IsEnabled returns whether Opus decoding is available
func (w *OpusDecoderWrapper) IsEnabled() bool {
	return w.enabled
}
