// Package bitcodec owns the chunking and reassembly contract around the
// backend's stego encoder. The encoder itself lives behind the Encoder
// interface; this package never implements the cover-generation algorithm.
package bitcodec

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Encoder is the external encode/decode pair, normally backed by the
// transport backend's /split_cover_chunks and /decode_cover_chunks calls.
type Encoder interface {
	EncodeText(ctx context.Context, realText, path string) (bits []int, err error)
	DecodeBits(ctx context.Context, bits []int) (realText string, err error)
}

// Chunk is one independently transmittable fragment of an encoded payload.
// Index/Total make reassembly order explicit so receivers do not have to
// trust send timestamps.
type Chunk struct {
	Text     string `json:"text"`
	BitCount int    `json:"bit_count"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
}

// DefaultLimits is the per-path chunk size ceiling in bits.
var DefaultLimits = map[string]int{
	"sms":   280,
	"email": 4096,
}

const fallbackLimit = 512

// Codec wraps an Encoder with path-aware chunking.
type Codec struct {
	encoder Encoder
	limits  map[string]int
	logger  *zap.Logger
}

// New creates a Codec. A nil limits map uses DefaultLimits; a nil logger
// disables logging.
func New(encoder Encoder, limits map[string]int, logger *zap.Logger) *Codec {
	if limits == nil {
		limits = DefaultLimits
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{encoder: encoder, limits: limits, logger: logger}
}

// Encode turns real text into a bit payload for the given path. Empty text
// never reaches the encoder and yields an empty payload.
func (c *Codec) Encode(ctx context.Context, realText, path string) ([]int, int, error) {
	if strings.TrimSpace(realText) == "" {
		return nil, 0, nil
	}
	bits, err := c.encoder.EncodeText(ctx, realText, path)
	if err != nil {
		return nil, 0, err
	}
	return bits, len(bits), nil
}

// Decode recovers real text from a bit payload. Decode failure is a normal
// outcome, not an error: the result is simply "no real text available" and
// the cover text remains the canonical content.
func (c *Codec) Decode(ctx context.Context, bits []int) string {
	if len(bits) == 0 {
		return ""
	}
	text, err := c.encoder.DecodeBits(ctx, bits)
	if err != nil {
		c.logger.Debug("decode unavailable", zap.Int("bits", len(bits)), zap.Error(err))
		return ""
	}
	return text
}

// Split cuts a bit payload into path-sized chunks, each carrying its
// position so the receiver can reassemble under arbitrary arrival order.
func (c *Codec) Split(bits []int, path string) []Chunk {
	if len(bits) == 0 {
		return nil
	}
	limit := c.limits[path]
	if limit <= 0 {
		limit = fallbackLimit
	}
	total := (len(bits) + limit - 1) / limit
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * limit
		end := min(start+limit, len(bits))
		part := bits[start:end]
		chunks = append(chunks, Chunk{
			Text:     BitstreamToDisplayText(part),
			BitCount: len(part),
			Index:    i,
			Total:    total,
		})
	}
	return chunks
}

// Reassemble restores the original bit payload from chunks in any order.
// Returns false when chunks are missing, duplicated inconsistently, or
// carry text that is not a bitstream rendering.
func Reassemble(chunks []Chunk) ([]int, bool) {
	if len(chunks) == 0 {
		return nil, false
	}
	total := chunks[0].Total
	if total <= 0 || len(chunks) != total {
		return nil, false
	}
	ordered := make([][]int, total)
	for _, ch := range chunks {
		if ch.Index < 0 || ch.Index >= total || ch.Total != total {
			return nil, false
		}
		bits, ok := DisplayTextToBits(ch.Text)
		if !ok {
			return nil, false
		}
		if ordered[ch.Index] != nil {
			return nil, false
		}
		ordered[ch.Index] = bits
	}
	var out []int
	for _, part := range ordered {
		if part == nil {
			return nil, false
		}
		out = append(out, part...)
	}
	return out, true
}

// BitstreamToDisplayText renders bits as a '0'/'1' string, the canonical
// textual form used when a bitstream itself travels as cover text.
func BitstreamToDisplayText(bits []int) string {
	var b strings.Builder
	b.Grow(len(bits))
	for _, bit := range bits {
		if bit == 0 {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}
	return b.String()
}

// DisplayTextToBits parses a '0'/'1' string back into bits. Any other
// character makes the string opaque cover text rather than a bitstream,
// and the second return is false.
func DisplayTextToBits(s string) ([]int, bool) {
	if s == "" {
		return nil, false
	}
	bits := make([]int, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		default:
			return nil, false
		}
	}
	return bits, true
}
