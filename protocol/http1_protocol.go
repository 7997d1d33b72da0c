package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	httperrors "github.com/nczempin/httpc-go-pipe/errors"
	"github.com/nczempin/httpc-go-pipe/pipe"
	"github.com/nczempin/httpc-go-pipe/transport"
)

var (
	// ErrExchangeInFlight is returned when an exchange is started while
	// another one is still running on the same connection.
	ErrExchangeInFlight = errors.New("protocol: exchange already in flight")

	// ErrConnectionBroken is the cause of the transport error returned once
	// an exchange on the connection failed; the stream position is unknown
	// and the caller must reconnect.
	ErrConnectionBroken = errors.New("protocol: connection broken by an earlier failure")
)

// Option configures an Http1Protocol
type Option func(*Http1Protocol)

// WithLogger sets the logger; the default discards everything
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Http1Protocol) { p.logger = logger }
}

// WithPipeOptions tunes the receive buffer of each connection
func WithPipeOptions(opts pipe.Options) Option {
	return func(p *Http1Protocol) { p.pipeOpts = opts }
}

// Http1Protocol implements HTTP/1.1 protocol over a transport.
//
// A producer goroutine moves bytes from the transport into a pipe for the
// lifetime of the connection; each exchange drains that pipe through Parse
// until the response reaches a terminal state. One exchange at a time.
type Http1Protocol struct {
	transport transport.Transport
	logger    logrus.FieldLogger
	pipeOpts  pipe.Options

	pipe     *pipe.Pipe
	producer *errgroup.Group
	cancel   context.CancelFunc

	inFlight atomic.Bool
	broken   atomic.Bool

	request  []byte
	body     []byte
	response ResponseContext
}

// NewHttp1Protocol creates a new HTTP/1.1 protocol handler
func NewHttp1Protocol(t transport.Transport, opts ...Option) *Http1Protocol {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	p := &Http1Protocol{
		transport: t,
		logger:    discard,
		request:   make([]byte, 0, 1024),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.response.OnBody = p.appendBody
	return p
}

// Connect establishes a connection to the specified host and port and
// starts filling the receive buffer
func (p *Http1Protocol) Connect(host string, port int) error {
	if p.pipe != nil {
		return httperrors.NewTransportError(
			httperrors.TransportErrorSocketConnectFailure,
			"already connected",
			nil,
		)
	}
	if err := p.transport.Connect(host, port); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	pp := pipe.New(p.pipeOpts)
	g.Go(func() error { return p.fill(ctx, pp) })

	p.pipe, p.producer, p.cancel = pp, g, cancel
	p.broken.Store(false)
	p.logger.WithFields(logrus.Fields{"host": host, "port": port}).Debug("connected")
	return nil
}

// fill is the producer: transport bytes go into the pipe until the
// transport ends or the consumer goes away
func (p *Http1Protocol) fill(ctx context.Context, pp *pipe.Pipe) error {
	minRead := pp.MinimumReadSize()
	for {
		buf := pp.Reserve(minRead)
		n, err := p.transport.Read(buf)
		if n > 0 {
			if cerr := pp.Commit(ctx, n); cerr != nil {
				pp.SignalEndOfData(cerr)
				if errors.Is(cerr, pipe.ErrReaderClosed) || errors.Is(cerr, context.Canceled) {
					return nil
				}
				return cerr
			}
		}
		if err != nil {
			if httperrors.IsTransportError(err, httperrors.TransportErrorConnectionClosed) {
				pp.SignalEndOfData(nil)
				return nil
			}
			pp.SignalEndOfData(err)
			return err
		}
	}
}

// Disconnect closes the connection and waits for the producer to stop
func (p *Http1Protocol) Disconnect() error {
	if p.pipe == nil {
		return p.transport.Close()
	}

	p.pipe.Close()
	p.cancel()
	if err := p.transport.Shutdown(); err != nil {
		p.logger.WithError(err).Debug("shutdown failed")
	}
	if err := p.producer.Wait(); err != nil {
		p.logger.WithError(err).Debug("producer stopped with error")
	}
	p.pipe, p.producer, p.cancel = nil, nil, nil
	return p.transport.Close()
}

// Exchange sends request and parses the response into rc, which is reset
// first. It returns when rc reaches a terminal state; any returned error is
// also rc.Err with rc.State set to StateError. A cancelled or expired ctx
// fails the response as truncated. ErrExchangeInFlight is the exception: rc
// may belong to the running exchange, so it is left alone.
func (p *Http1Protocol) Exchange(ctx context.Context, request []byte, rc *ResponseContext) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrExchangeInFlight
	}
	defer p.inFlight.Store(false)

	rc.Reset()
	if p.pipe == nil {
		return rc.abort(httperrors.NewTransportError(
			httperrors.TransportErrorSocketWriteFailure,
			"not connected",
			nil,
		))
	}
	if p.broken.Load() {
		return rc.abort(httperrors.NewTransportError(
			httperrors.TransportErrorConnectionClosed,
			"reconnect required",
			ErrConnectionBroken,
		))
	}

	if _, err := p.transport.Write(request); err != nil {
		p.broken.Store(true)
		p.logger.WithError(err).Error("sending request failed")
		return rc.abort(writeFailure(err))
	}

	err := p.receive(ctx, rc)
	if rc.FramingInferred {
		p.logger.WithField("status", rc.StatusCode).
			Warn("no Content-Length and no chunked Transfer-Encoding; body was read as chunked")
	}
	if err != nil {
		p.broken.Store(true)
		p.logger.WithError(err).WithField("state", rc.State).Error("exchange failed")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"status":         rc.StatusCode,
		"content_length": rc.ContentLength,
	}).Debug("exchange completed")
	return nil
}

func writeFailure(err error) *httperrors.HttpError {
	var httpErr *httperrors.HttpError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return httperrors.NewTransportError(httperrors.TransportErrorSocketWriteFailure, "write failed", err)
}

// receive is the consumption loop of one exchange
func (p *Http1Protocol) receive(ctx context.Context, rc *ResponseContext) error {
	for {
		res, err := p.pipe.Wait(ctx)
		if err != nil {
			if errors.Is(err, pipe.ErrBufferFull) {
				return rc.abort(httperrors.WrapProtocolError(
					httperrors.ProtocolErrorMessageTooLarge,
					fmt.Sprintf("no complete line within %d buffered bytes", p.pipe.Buffered()),
					err,
				))
			}
			return rc.abort(httperrors.WrapProtocolError(
				httperrors.ProtocolErrorTruncatedResponse,
				fmt.Sprintf("gave up in state %s", rc.State),
				err,
			))
		}

		consumed, examined := Parse(res.Buffer, rc)
		if err := p.pipe.Retire(consumed, examined); err != nil {
			return rc.abort(&httperrors.HttpError{
				Type:          httperrors.ErrorMemory,
				Message:       "receive buffer rejected watermarks",
				UnderlyingErr: err,
			})
		}

		switch rc.State {
		case StateCompleted:
			return nil
		case StateError:
			return rc.Err
		}

		if res.IsCompleted {
			return rc.abort(httperrors.WrapProtocolError(
				httperrors.ProtocolErrorTruncatedResponse,
				fmt.Sprintf("connection ended in state %s", rc.State),
				res.Err,
			))
		}
	}
}

func (p *Http1Protocol) appendBody(b []byte) {
	p.body = append(p.body, b...)
}

// PerformRequestUnsafe performs an HTTP request and returns a response
// whose body lives in a buffer reused by the next request
func (p *Http1Protocol) PerformRequestUnsafe(ctx context.Context, req *HttpRequest) (*UnsafeHttpResponse, error) {
	p.request = BuildRequest(p.request[:0], req)
	p.body = p.body[:0]

	rc := &p.response
	if err := p.Exchange(ctx, p.request, rc); err != nil {
		return nil, err
	}

	return &UnsafeHttpResponse{
		StatusCode:    rc.StatusCode,
		Body:          p.body,
		ContentLength: rc.ContentLength,
		Chunked:       !rc.HasContentLengthHeader,
	}, nil
}

// PerformRequestSafe performs an HTTP request and returns a copied response
func (p *Http1Protocol) PerformRequestSafe(ctx context.Context, req *HttpRequest) (*HttpResponse, error) {
	unsafeResp, err := p.PerformRequestUnsafe(ctx, req)
	if err != nil {
		return nil, err
	}

	// Copy all data to ensure it remains valid
	body := make([]byte, len(unsafeResp.Body))
	copy(body, unsafeResp.Body)

	return &HttpResponse{
		StatusCode:    unsafeResp.StatusCode,
		Body:          body,
		ContentLength: unsafeResp.ContentLength,
		Chunked:       unsafeResp.Chunked,
	}, nil
}
