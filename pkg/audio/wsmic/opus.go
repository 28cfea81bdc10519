package wsmic

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameMs bounds the decode buffer: Opus frames are at most 120 ms.
const maxOpusFrameMs = 120

// opusDecoder wraps a gopus decoder for a single microphone client. Each
// client gets its own decoder to maintain codec state correctly across
// consecutive packets.
type opusDecoder struct {
	dec      *gopus.Decoder
	rate     int
	channels int
}

// newOpusDecoder creates a decoder for the client's announced format.
func newOpusDecoder(rate, channels int) (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("wsmic: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, rate: rate, channels: channels}, nil
}

// decode decodes one Opus packet into interleaved little-endian int16 PCM
// bytes at the client's native rate and channel count.
func (d *opusDecoder) decode(pkt []byte) ([]byte, error) {
	maxSamples := d.rate * maxOpusFrameMs / 1000
	pcm, err := d.dec.Decode(pkt, maxSamples, false)
	if err != nil {
		return nil, fmt.Errorf("wsmic: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
