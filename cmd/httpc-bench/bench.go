package main

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nczempin/httpc-go-pipe/pipe"
	"github.com/nczempin/httpc-go-pipe/protocol"
	"github.com/nczempin/httpc-go-pipe/transport"
)

// benchResult summarises one run
type benchResult struct {
	Completed int
	Elapsed   time.Duration

	// The last cycle that ran, successful or not
	LastState         protocol.ResponseState
	LastStatus        int
	LastContentLength int64
	Err               error
}

// newTransport picks a transport by name. The returned release func frees
// whatever the transport holds beyond the socket.
func newTransport(name string) (transport.Transport, func(), error) {
	switch name {
	case "uring":
		t, err := transport.NewTcpTransport()
		if err != nil {
			return nil, nil, err
		}
		return t, t.Destroy, nil
	case "uring2":
		t, err := transport.NewTcpTransportV2()
		if err != nil {
			return nil, nil, err
		}
		return t, t.Destroy, nil
	case "unix":
		t, err := transport.NewUnixTransport()
		if err != nil {
			return nil, nil, err
		}
		return t, t.Destroy, nil
	default:
		return transport.NewNetTransport(), func() {}, nil
	}
}

// benchRequest is the fixed request sent on every cycle
func benchRequest(cfg Config) []byte {
	host := cfg.Host
	if cfg.Transport != "unix" {
		host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	return protocol.BuildRequest(nil, &protocol.HttpRequest{
		Method: protocol.MethodGet,
		Path:   cfg.Path,
		Headers: []protocol.HttpHeader{
			{Key: "Host", Value: host},
			{Key: "Content-Length", Value: "0"},
		},
	})
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// runBench connects once and repeats the cycle until the iteration count
// is reached, ctx ends, or a cycle finishes in any state but Completed.
func runBench(ctx context.Context, cfg Config, logger logrus.FieldLogger, m *benchMetrics) (benchResult, error) {
	t, release, err := newTransport(cfg.Transport)
	if err != nil {
		return benchResult{}, err
	}
	defer release()

	proto := protocol.NewHttp1Protocol(t,
		protocol.WithLogger(logger),
		protocol.WithPipeOptions(pipe.Options{
			SegmentSize:          cfg.SegmentSize,
			PauseWriterThreshold: cfg.MaxBuffered,
		}),
	)
	if err := proto.Connect(cfg.Host, cfg.Port); err != nil {
		return benchResult{}, err
	}
	defer func() {
		if err := proto.Disconnect(); err != nil {
			logger.WithError(err).Warn("disconnect failed")
		}
	}()

	request := benchRequest(cfg)
	limiter := newLimiter(cfg.RPS)

	var (
		res benchResult
		rc  protocol.ResponseContext
	)
	start := time.Now()
	for i := 0; i < cfg.Iterations; i++ {
		if err := limiter.Wait(ctx); err != nil {
			res.Err = err
			break
		}

		cycleCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			cycleCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		cycleStart := time.Now()
		err := proto.Exchange(cycleCtx, request, &rc)
		cancel()
		m.observe(&rc, time.Since(cycleStart))

		res.LastState, res.LastStatus, res.LastContentLength = rc.State, rc.StatusCode, rc.ContentLength
		if rc.State != protocol.StateCompleted {
			res.Err = err
			logger.WithFields(logrus.Fields{
				"iteration": i,
				"state":     rc.State,
			}).WithError(err).Warn("cycle did not complete")
			break
		}
		res.Completed++
	}
	res.Elapsed = time.Since(start)
	return res, nil
}
