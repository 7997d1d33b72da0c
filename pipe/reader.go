package pipe

// Reader walks a Sequence front to back. It never copies; every result is
// a sub-view of the underlying Sequence.
type Reader struct {
	seq Sequence
	pos Position
}

// NewReader returns a Reader positioned at the start of seq.
func NewReader(seq Sequence) Reader {
	return Reader{seq: seq, pos: seq.Start()}
}

// Position returns the position of the next unread byte.
func (r *Reader) Position() Position { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int64 { return int64(r.seq.End() - r.pos) }

// Unread returns the view of all unread bytes.
func (r *Reader) Unread() Sequence { return r.seq.Slice(r.pos, r.seq.End()) }

// TryReadTo returns the bytes up to delim and moves past delim. When delim
// is not present yet, nothing moves and ok is false.
func (r *Reader) TryReadTo(delim []byte) (Sequence, bool) {
	at, ok := r.Unread().Index(delim)
	if !ok {
		return Sequence{}, false
	}
	out := r.seq.Slice(r.pos, at)
	r.pos = at + Position(len(delim))
	return out, true
}

// Advance moves past n bytes. It panics when fewer than n bytes remain.
func (r *Reader) Advance(n int64) {
	if n < 0 || n > r.Remaining() {
		panic("pipe: reader advanced past end of sequence")
	}
	r.pos += Position(n)
}

// AdvanceFunc moves past n bytes, handing each contiguous piece to fn
// first. fn may be nil.
func (r *Reader) AdvanceFunc(n int64, fn func([]byte)) {
	if fn != nil && n > 0 {
		r.seq.Slice(r.pos, r.pos+Position(n)).ForEach(func(piece []byte) bool {
			fn(piece)
			return true
		})
	}
	r.Advance(n)
}

// IsNext reports whether the unread bytes start with lit, optionally moving
// past it on a match.
func (r *Reader) IsNext(lit []byte, advancePast bool) bool {
	if r.Remaining() < int64(len(lit)) {
		return false
	}
	if !r.seq.Slice(r.pos, r.pos+Position(len(lit))).Equal(lit) {
		return false
	}
	if advancePast {
		r.pos += Position(len(lit))
	}
	return true
}
