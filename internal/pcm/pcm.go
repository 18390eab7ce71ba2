// Package pcm converts between float samples and the 16-bit little-endian
// wire representation used by both sockets and both audio devices.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate is fixed for capture and playback.
	SampleRate = 24000
	// Channels is fixed to mono.
	Channels = 1
	// WindowSize is the number of samples per capture window.
	WindowSize = 4096

	scale = 32768.0
)

// EncodeFrame converts samples in [-1, 1] to int16. Out-of-range samples are
// clamped rather than rejected; values are truncated toward zero.
func EncodeFrame(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * scale
		switch {
		case math.IsNaN(v):
			v = 0
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// DecodeChunk converts little-endian int16 bytes to floats. An empty input
// yields an empty result. A trailing odd byte is ignored.
func DecodeChunk(b []byte) []float32 {
	n := len(b) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(b[i*2:]))
		out[i] = float32(float64(v) / scale)
	}
	return out
}

// DecodeBase64 decodes a base64 playback payload into float samples.
func DecodeBase64(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return DecodeChunk(raw), nil
}

// Int16ToLE serialises samples as little-endian bytes.
func Int16ToLE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32FromLE reads little-endian float32 samples, as produced by an f32le
// capture device.
func Float32FromLE(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Float32ToLE writes samples as little-endian float32 bytes for an f32le
// playback device.
func Float32ToLE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
