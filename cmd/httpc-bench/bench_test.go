package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpc-go-pipe/protocol"
)

// serve answers every request on the first accepted connection with the
// responses in turn, repeating the last one, and closes after limit
// requests (0 for no limit).
func serve(t *testing.T, limit int, responses ...string) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		for i := 0; limit == 0 || i < limit; i++ {
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if line == "\r\n" {
					break
				}
			}
			resp := responses[len(responses)-1]
			if i < len(responses) {
				resp = responses[i]
			}
			if _, err := io.WriteString(conn, resp); err != nil {
				return
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBenchRequest(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	assert.Equal(t,
		"GET / HTTP/1.1\r\nHost: 127.0.0.1:5000\r\nContent-Length: 0\r\n\r\n",
		string(benchRequest(cfg)))

	cfg.Transport, cfg.Host, cfg.Path = "unix", "/tmp/s.sock", "/x"
	assert.Equal(t,
		"GET /x HTTP/1.1\r\nHost: /tmp/s.sock\r\nContent-Length: 0\r\n\r\n",
		string(benchRequest(cfg)))
}

func TestRunBenchCompletesAllCycles(t *testing.T) {
	t.Parallel()

	host, port := serve(t, 0, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")

	cfg := NewConfig()
	cfg.Host, cfg.Port, cfg.Transport, cfg.Iterations = host, port, "net", 25

	reg := prometheus.NewRegistry()
	m := newBenchMetrics(reg)
	res, err := runBench(context.Background(), cfg, quietLogger(), m)
	require.NoError(t, err)

	assert.Equal(t, 25, res.Completed)
	assert.NoError(t, res.Err)
	assert.Equal(t, protocol.StateCompleted, res.LastState)
	assert.Equal(t, 200, res.LastStatus)
	assert.Equal(t, int64(5), res.LastContentLength)

	assert.Equal(t, 25.0, testutil.ToFloat64(m.cycles.WithLabelValues("Completed", "200")))
	assert.Equal(t, 125.0, testutil.ToFloat64(m.bodyBytes))
}

func TestRunBenchStopsAtFirstFailedCycle(t *testing.T) {
	t.Parallel()

	host, port := serve(t, 0,
		"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.0 200 OK\r\nContent-Length: 0\r\n\r\n",
	)

	cfg := NewConfig()
	cfg.Host, cfg.Port, cfg.Transport, cfg.Iterations = host, port, "net", 10

	res, err := runBench(context.Background(), cfg, quietLogger(), newBenchMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, protocol.StateError, res.LastState)
	assert.Error(t, res.Err)
}

func TestRunBenchConnectFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := NewConfig()
	cfg.Port, cfg.Transport, cfg.Iterations = port, "net", 1

	_, err = runBench(context.Background(), cfg, quietLogger(), newBenchMetrics(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printSummary(&buf, Config{Iterations: 4}, benchResult{
		Completed:  3,
		LastState:  protocol.StateError,
		LastStatus: 200,
		Err:        assert.AnError,
	})

	out := buf.String()
	assert.True(t, strings.Contains(out, "3/4 cycles completed"), out)
	assert.Contains(t, out, "last state: Error, status: 200")
	assert.Contains(t, out, assert.AnError.Error())
}
