package protocol

import (
	"math"

	"github.com/nczempin/httpc-go-pipe/pipe"
)

// Numeric tokens are bounded by the digit count of their target type. The
// bound is checked before anything is copied, so the scratch arrays below
// never grow.
const (
	maxStatusCodeDigits    = 10 // int32, decimal
	maxContentLengthDigits = 19 // int64, decimal
	maxChunkSizeDigits     = 16 // int64, hexadecimal

	maxTokenDigits = maxContentLengthDigits
)

// tokenBytes returns tok as one contiguous slice: in place when it lives in
// a single segment, copied into scratch when it straddles segments.
// The caller has already checked tok against len(scratch).
func tokenBytes(tok pipe.Sequence, scratch []byte) []byte {
	if tok.IsSingleSegment() {
		return tok.First()
	}
	return scratch[:tok.CopyTo(scratch)]
}

func parseStatusCode(tok pipe.Sequence) (int, bool) {
	v, ok := parseDecimal(tok, maxStatusCodeDigits, math.MaxInt32)
	return int(v), ok
}

func parseContentLength(tok pipe.Sequence) (int64, bool) {
	return parseDecimal(tok, maxContentLengthDigits, math.MaxInt64)
}

func parseDecimal(tok pipe.Sequence, maxDigits int, limit int64) (int64, bool) {
	if tok.IsEmpty() || tok.Len() > int64(maxDigits) {
		return 0, false
	}
	var scratch [maxTokenDigits]byte
	var v int64
	for _, c := range tokenBytes(tok, scratch[:]) {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := int64(c - '0')
		if v > (limit-d)/10 {
			return 0, false
		}
		v = v*10 + d
	}
	return v, true
}

func parseChunkSize(tok pipe.Sequence) (int64, bool) {
	if tok.IsEmpty() || tok.Len() > maxChunkSizeDigits {
		return 0, false
	}
	var scratch [maxChunkSizeDigits]byte
	var v int64
	for _, c := range tokenBytes(tok, scratch[:]) {
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		default:
			return 0, false
		}
		if v > (math.MaxInt64-d)/16 {
			return 0, false
		}
		v = v*16 + d
	}
	return v, true
}
