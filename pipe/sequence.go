package pipe

import "bytes"

// Position is an absolute byte offset into the stream carried by a Pipe.
// Offsets only grow, so watermarks can be compared directly.
type Position int64

// Sequence is a read-only view over committed bytes. It is logically
// contiguous but may be backed by several non-adjacent segments.
//
// A Sequence handed out by a Pipe is only valid until the next call to
// Retire on that Pipe.
type Sequence struct {
	segs  [][]byte // segs[0][0] sits at base
	base  Position
	start Position
	end   Position
}

// NewSequence builds a Sequence starting at position 0 from the given
// segments. Empty segments are kept; they simply contribute no bytes.
func NewSequence(segs ...[]byte) Sequence {
	var n int64
	for _, s := range segs {
		n += int64(len(s))
	}
	return Sequence{segs: segs, end: Position(n)}.Slice(0, Position(n))
}

func newSequenceAt(base Position, start Position, segs [][]byte) Sequence {
	end := base
	for _, s := range segs {
		end += Position(len(s))
	}
	return Sequence{segs: segs, base: base, start: start, end: end}.Slice(start, end)
}

// Len returns the number of bytes in the view.
func (s Sequence) Len() int64 { return int64(s.end - s.start) }

// Start returns the position of the first byte.
func (s Sequence) Start() Position { return s.start }

// End returns the position just past the last byte.
func (s Sequence) End() Position { return s.end }

// IsEmpty reports whether the view holds no bytes.
func (s Sequence) IsEmpty() bool { return s.end == s.start }

// IsSingleSegment reports whether all bytes live in one contiguous region.
func (s Sequence) IsSingleSegment() bool { return len(s.segs) <= 1 }

// First returns the bytes of the first segment that belong to the view.
// For a single-segment view this is the whole view, without copying.
func (s Sequence) First() []byte {
	if len(s.segs) == 0 || s.IsEmpty() {
		return nil
	}
	seg := s.segs[0]
	from := int(s.start - s.base)
	to := len(seg)
	if limit := int(s.end - s.base); limit < to {
		to = limit
	}
	return seg[from:to]
}

// Slice returns the sub-view covering [from, to). It panics when the range
// lies outside the view, like slicing a []byte would.
func (s Sequence) Slice(from, to Position) Sequence {
	if from < s.start || to > s.end || from > to {
		panic("pipe: sequence slice out of range")
	}
	segs, base := s.segs, s.base
	if len(segs) == 0 {
		return Sequence{base: base, start: from, end: to}
	}
	// Drop leading segments that end at or before from.
	for len(segs) > 1 && base+Position(len(segs[0])) <= from {
		base += Position(len(segs[0]))
		segs = segs[1:]
	}
	// Drop trailing segments that start at or after to.
	last, pos := 0, base
	for i, seg := range segs {
		if pos >= to && i > 0 {
			break
		}
		last = i
		pos += Position(len(seg))
	}
	return Sequence{segs: segs[:last+1], base: base, start: from, end: to}
}

// ForEach calls fn with every contiguous piece of the view in order,
// stopping early when fn returns false.
func (s Sequence) ForEach(fn func(piece []byte) bool) {
	pos := s.base
	for _, seg := range s.segs {
		segEnd := pos + Position(len(seg))
		from, to := pos, segEnd
		if from < s.start {
			from = s.start
		}
		if to > s.end {
			to = s.end
		}
		if from < to && !fn(seg[from-pos:to-pos]) {
			return
		}
		pos = segEnd
		if pos >= s.end {
			return
		}
	}
}

// IndexByte returns the position of the first c in the view.
func (s Sequence) IndexByte(c byte) (Position, bool) {
	at, found := s.start, false
	s.ForEach(func(piece []byte) bool {
		if i := bytes.IndexByte(piece, c); i >= 0 {
			at += Position(i)
			found = true
			return false
		}
		at += Position(len(piece))
		return true
	})
	return at, found
}

// Index returns the position of the first occurrence of delim, which may
// straddle segment boundaries. A partial match at the end of the view is
// reported as not found.
func (s Sequence) Index(delim []byte) (Position, bool) {
	if len(delim) == 0 {
		return s.start, true
	}
	rest := s
	for {
		at, ok := rest.IndexByte(delim[0])
		if !ok || s.end-at < Position(len(delim)) {
			return 0, false
		}
		if s.Slice(at, at+Position(len(delim))).Equal(delim) {
			return at, true
		}
		rest = s.Slice(at+1, s.end)
	}
}

// Contains reports whether lit occurs anywhere in the view.
func (s Sequence) Contains(lit []byte) bool {
	_, ok := s.Index(lit)
	return ok
}

// Equal reports whether the view holds exactly lit.
func (s Sequence) Equal(lit []byte) bool {
	if s.Len() != int64(len(lit)) {
		return false
	}
	equal := true
	s.ForEach(func(piece []byte) bool {
		if !bytes.Equal(piece, lit[:len(piece)]) {
			equal = false
			return false
		}
		lit = lit[len(piece):]
		return true
	})
	return equal
}

// CopyTo copies as much of the view as fits into dst and returns the count.
func (s Sequence) CopyTo(dst []byte) int {
	n := 0
	s.ForEach(func(piece []byte) bool {
		n += copy(dst[n:], piece)
		return n < len(dst)
	})
	return n
}

// Bytes returns a copy of the view as one slice.
func (s Sequence) Bytes() []byte {
	out := make([]byte, s.Len())
	s.CopyTo(out)
	return out
}

// ByteAt returns the byte at pos, which must lie inside the view.
func (s Sequence) ByteAt(pos Position) byte {
	return s.Slice(pos, pos+1).First()[0]
}

// TrimSpace returns the view without leading and trailing spaces and tabs.
func (s Sequence) TrimSpace() Sequence {
	from, to := s.start, s.end
	for from < to && isSpace(s.ByteAt(from)) {
		from++
	}
	for to > from && isSpace(s.ByteAt(to-1)) {
		to--
	}
	return s.Slice(from, to)
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }
