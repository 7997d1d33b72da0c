// Package pipe implements the buffer between a transport and a parser: a
// single-producer/single-consumer byte queue built from pooled segments.
//
// The producer reserves a writable region, fills it from the transport and
// commits it. The consumer looks at everything committed so far as one
// Sequence and retires what it is done with through two watermarks:
// consumed (bytes that may be reclaimed) and examined (bytes that were
// looked at). The consumer is only woken again once data beyond examined
// arrives, so a parser that needs more bytes never spins.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oxtoacart/bpool"
)

var (
	// ErrBufferFull is returned by Wait when the producer is paused on a
	// full buffer and the consumer has examined every buffered byte.
	// Nothing can make progress after that.
	ErrBufferFull = errors.New("pipe: buffer full")

	// ErrReaderClosed is returned to the producer once the consumer closed
	// the pipe.
	ErrReaderClosed = errors.New("pipe: reader closed")

	// ErrWriterCompleted is returned by Commit after SignalEndOfData.
	ErrWriterCompleted = errors.New("pipe: writer completed")

	// ErrInvalidPosition is returned by Retire for watermarks that move
	// backwards or past the buffered data.
	ErrInvalidPosition = errors.New("pipe: invalid position")
)

// Options tunes a Pipe. Zero fields take their defaults.
type Options struct {
	// SegmentSize is the width of pooled segments.
	SegmentSize int
	// MinimumReadSize is the smallest region a producer should reserve
	// per transport read.
	MinimumReadSize int
	// PauseWriterThreshold is the amount of unconsumed data at which
	// Commit starts blocking. Negative disables backpressure.
	PauseWriterThreshold int64
	// ResumeWriterThreshold is the amount of unconsumed data at which a
	// paused producer resumes.
	ResumeWriterThreshold int64
	// PoolSize caps how many idle segments the pool keeps.
	PoolSize int
	// Pool, when set, is used instead of a pipe-private pool. Its width
	// overrides SegmentSize.
	Pool *bpool.BytePool
}

const (
	DefaultSegmentSize           = 4096
	DefaultMinimumReadSize       = 512
	DefaultPauseWriterThreshold  = 64 << 10
	DefaultResumeWriterThreshold = 32 << 10
	DefaultPoolSize              = 16
)

func (o Options) withDefaults() Options {
	if o.Pool != nil {
		o.SegmentSize = o.Pool.Width()
	}
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.MinimumReadSize <= 0 {
		o.MinimumReadSize = DefaultMinimumReadSize
	}
	if o.MinimumReadSize > o.SegmentSize {
		o.MinimumReadSize = o.SegmentSize
	}
	if o.PauseWriterThreshold == 0 {
		o.PauseWriterThreshold = DefaultPauseWriterThreshold
	}
	if o.ResumeWriterThreshold <= 0 || o.ResumeWriterThreshold > o.PauseWriterThreshold {
		o.ResumeWriterThreshold = o.PauseWriterThreshold / 2
	}
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	return o
}

type segment struct {
	buf    []byte
	start  Position // stream position of buf[0]
	n      int      // committed bytes
	pooled bool
}

// ReadResult is what the consumer sees on each read.
type ReadResult struct {
	// Buffer holds every committed byte that was not consumed yet.
	Buffer Sequence
	// IsCompleted is set once the producer signalled end of data; Buffer
	// then holds everything that will ever arrive.
	IsCompleted bool
	// Err is the reason the producer stopped, nil for a clean end.
	Err error
}

// Pipe is a bounded single-producer/single-consumer byte queue.
type Pipe struct {
	opts Options
	pool *bpool.BytePool

	mu         sync.Mutex
	segs       []*segment
	reserved   int
	committed  Position
	consumed   Position
	examined   Position
	paused     bool
	writerDone bool
	writerErr  error
	readerDone bool

	dataReady  chan struct{}
	spaceReady chan struct{}
}

// New returns an empty Pipe.
func New(opts Options) *Pipe {
	opts = opts.withDefaults()
	pool := opts.Pool
	if pool == nil {
		pool = bpool.NewBytePool(opts.PoolSize, opts.SegmentSize)
	}
	return &Pipe{
		opts:       opts,
		pool:       pool,
		dataReady:  make(chan struct{}, 1),
		spaceReady: make(chan struct{}, 1),
	}
}

// MinimumReadSize is the region size the producer should ask Reserve for.
func (p *Pipe) MinimumReadSize() int { return p.opts.MinimumReadSize }

// Reserve returns a writable region of at least minSize bytes. The region
// is not necessarily contiguous with earlier ones. Only the most recent
// reservation may be committed.
func (p *Pipe) Reserve(minSize int) []byte {
	if minSize <= 0 {
		minSize = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.segs); n > 0 {
		tail := p.segs[n-1]
		if free := len(tail.buf) - tail.n; free >= minSize {
			p.reserved = free
			return tail.buf[tail.n:]
		}
	}

	seg := &segment{start: p.committed}
	if minSize <= p.opts.SegmentSize {
		seg.buf = p.pool.Get()
		seg.pooled = true
	} else {
		seg.buf = make([]byte, minSize)
	}
	p.segs = append(p.segs, seg)
	p.reserved = len(seg.buf)
	return seg.buf
}

// Commit publishes the first n bytes of the last reserved region. When the
// unconsumed backlog reaches PauseWriterThreshold it blocks until the
// consumer catches up, ctx ends, or the consumer closes the pipe.
func (p *Pipe) Commit(ctx context.Context, n int) error {
	p.mu.Lock()
	switch {
	case p.readerDone:
		p.mu.Unlock()
		return ErrReaderClosed
	case p.writerDone:
		p.mu.Unlock()
		return ErrWriterCompleted
	case n < 0 || n > p.reserved:
		reserved := p.reserved
		p.mu.Unlock()
		return fmt.Errorf("pipe: commit of %d bytes exceeds reservation of %d", n, reserved)
	}

	if n > 0 {
		p.segs[len(p.segs)-1].n += n
		p.committed += Position(n)
	}
	p.reserved = 0
	if p.opts.PauseWriterThreshold > 0 && int64(p.committed-p.consumed) >= p.opts.PauseWriterThreshold {
		p.paused = true
	}
	paused := p.paused
	p.mu.Unlock()
	notify(p.dataReady)

	for paused {
		select {
		case <-p.spaceReady:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
		paused = p.paused && !p.readerDone
		closed := p.readerDone
		p.mu.Unlock()
		if closed {
			return ErrReaderClosed
		}
	}
	return nil
}

// SignalEndOfData tells the consumer no more bytes will arrive. err is the
// reason, nil for a clean end of stream.
func (p *Pipe) SignalEndOfData(err error) {
	p.mu.Lock()
	if !p.writerDone {
		p.writerDone = true
		p.writerErr = err
	}
	p.mu.Unlock()
	notify(p.dataReady)
}

// CurrentView returns everything committed and not yet consumed. It never
// blocks.
func (p *Pipe) CurrentView() ReadResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// Wait blocks until bytes beyond the examined watermark are committed or
// the producer is done, then returns the current view.
func (p *Pipe) Wait(ctx context.Context) (ReadResult, error) {
	for {
		p.mu.Lock()
		if p.committed > p.examined || p.writerDone {
			res := p.viewLocked()
			p.mu.Unlock()
			return res, nil
		}
		if p.paused {
			p.mu.Unlock()
			return ReadResult{}, ErrBufferFull
		}
		p.mu.Unlock()

		select {
		case <-p.dataReady:
		case <-ctx.Done():
			return ReadResult{}, ctx.Err()
		}
	}
}

func (p *Pipe) viewLocked() ReadResult {
	// Each view gets its own segment list, so an earlier view survives
	// later reads and only Retire can invalidate it.
	view := make([][]byte, 0, len(p.segs))
	base := p.consumed
	for i, seg := range p.segs {
		if i == 0 {
			base = seg.start
		}
		view = append(view, seg.buf[:seg.n])
	}
	return ReadResult{
		Buffer:      newSequenceAt(base, p.consumed, view),
		IsCompleted: p.writerDone,
		Err:         p.writerErr,
	}
}

// Retire advances the watermarks. Bytes before consumed are released and
// never shown again; the consumer is not woken until data beyond examined
// arrives. An examined value behind the current watermark leaves it where
// it is. Any Sequence obtained earlier is invalid afterwards.
func (p *Pipe) Retire(consumed, examined Position) error {
	p.mu.Lock()
	if examined < p.examined {
		examined = p.examined
	}
	if consumed < p.consumed || consumed > examined || examined > p.committed {
		p.mu.Unlock()
		return fmt.Errorf("%w: consumed %d examined %d (watermarks %d/%d, end %d)",
			ErrInvalidPosition, consumed, examined, p.consumed, p.examined, p.committed)
	}
	p.consumed = consumed
	p.examined = examined
	p.releaseLocked()

	resume := p.paused && int64(p.committed-p.consumed) <= p.opts.ResumeWriterThreshold
	if resume {
		p.paused = false
	}
	p.mu.Unlock()
	if resume {
		notify(p.spaceReady)
	}
	return nil
}

// releaseLocked hands fully consumed segments back to the pool. The tail
// stays since the producer keeps writing into it; it is rewound instead
// when it is drained and nothing is reserved.
func (p *Pipe) releaseLocked() {
	for len(p.segs) > 1 {
		head := p.segs[0]
		if head.start+Position(head.n) > p.consumed {
			break
		}
		if head.pooled {
			p.pool.Put(head.buf)
		}
		p.segs[0] = nil
		p.segs = p.segs[1:]
	}
	if len(p.segs) == 1 && p.reserved == 0 {
		tail := p.segs[0]
		if tail.start+Position(tail.n) == p.consumed {
			tail.start = p.consumed
			tail.n = 0
		}
	}
}

// Close marks the consumer side as finished. A blocked or later Commit
// returns ErrReaderClosed.
func (p *Pipe) Close() {
	p.mu.Lock()
	p.readerDone = true
	p.mu.Unlock()
	notify(p.spaceReady)
}

// Watermarks reports the consumed and examined watermarks and the end of
// committed data.
func (p *Pipe) Watermarks() (consumed, examined, end Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed, p.examined, p.committed
}

// Buffered returns the number of committed bytes not yet consumed.
func (p *Pipe) Buffered() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(p.committed - p.consumed)
}

func notify(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}
