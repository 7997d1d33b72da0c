package protocol

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/httpc-go-pipe/errors"
	"github.com/nczempin/httpc-go-pipe/pipe"
)

// parseResult is what a run of Parse over some deliveries ended with
type parseResult struct {
	State         ResponseState
	StatusCode    int
	ContentLength int64
	Body          string
	Consumed      pipe.Position
}

// parseFragments delivers frags one at a time, the way bytes arrive from a
// transport, and parses after each delivery. Every fragment becomes its own
// segment. Watermarks are checked on every call.
func parseFragments(t *testing.T, frags ...string) (parseResult, *ResponseContext) {
	t.Helper()

	var body strings.Builder
	rc := &ResponseContext{OnBody: func(b []byte) { body.Write(b) }}

	var (
		segs               [][]byte
		consumed, examined pipe.Position
	)
	for _, f := range frags {
		segs = append(segs, []byte(f))
		all := pipe.NewSequence(segs...)

		c, e := Parse(all.Slice(consumed, all.End()), rc)
		require.GreaterOrEqual(t, c, consumed, "consumed moved backwards")
		require.GreaterOrEqual(t, e, c, "consumed beyond examined")
		require.LessOrEqual(t, e, all.End())
		if !rc.State.Terminal() {
			require.GreaterOrEqual(t, e, examined, "examined moved backwards")
		}
		consumed, examined = c, e

		if rc.State.Terminal() {
			break
		}
	}
	return parseResult{
		State:         rc.State,
		StatusCode:    rc.StatusCode,
		ContentLength: rc.ContentLength,
		Body:          body.String(),
		Consumed:      consumed,
	}, rc
}

func bytewise(s string) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i : i+1]
	}
	return out
}

var wellFormed = []struct {
	name   string
	input  string
	status int
	length int64
	body   string
}{
	{
		name:   "content length",
		input:  "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello",
		status: 200, length: 5, body: "hello",
	},
	{
		name:   "chunked",
		input:  "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n0\r\n\r\n",
		status: 200, length: 4, body: "Wiki",
	},
	{
		name: "chunked multi",
		input: "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nServer: x\r\n\r\n" +
			"4\r\nWiki\r\n5\r\npedia\r\nE\r\n in\r\n\r\nchunks.\r\n0\r\n\r\n",
		status: 200, length: 23, body: "Wikipedia in\r\n\r\nchunks.",
	},
	{
		name:   "chunk extension and upper-case hex",
		input:  "HTTP/1.1 201 Created\r\nTransfer-Encoding: chunked\r\n\r\nA;name=value\r\n0123456789\r\n0\r\n\r\n",
		status: 201, length: 10, body: "0123456789",
	},
	{
		name:   "empty body",
		input:  "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n",
		status: 204, length: 0, body: "",
	},
	{
		name:   "no reason phrase",
		input:  "HTTP/1.1 404\r\nContent-Length: 3\r\n\r\nnope",
		status: 404, length: 3, body: "nop",
	},
	{
		name:   "header value whitespace",
		input:  "HTTP/1.1 200 OK\r\nX-Empty:\r\nContent-Length: \t 2 \r\n\r\nok",
		status: 200, length: 2, body: "ok",
	},
}

func TestParseWholeInput(t *testing.T) {
	t.Parallel()

	for _, tc := range wellFormed {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res, rc := parseFragments(t, tc.input)
			require.Equal(t, StateCompleted, res.State, "err: %v", rc.Err)
			assert.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.length, res.ContentLength)
			assert.Equal(t, tc.body, res.Body)
			assert.Nil(t, rc.Err)
		})
	}
}

func TestParseFragmentationInvariance(t *testing.T) {
	t.Parallel()

	for _, tc := range wellFormed {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			want, _ := parseFragments(t, tc.input)

			for cut := 0; cut <= len(tc.input); cut++ {
				got, _ := parseFragments(t, tc.input[:cut], tc.input[cut:])
				assert.Equal(t, want, got, "split at %d", cut)
			}
			for a := 1; a < len(tc.input); a++ {
				for b := a; b < len(tc.input); b += 7 {
					got, _ := parseFragments(t, tc.input[:a], tc.input[a:b], tc.input[b:])
					assert.Equal(t, want, got, "split at %d and %d", a, b)
				}
			}

			got, _ := parseFragments(t, bytewise(tc.input)...)
			assert.Equal(t, want, got, "byte at a time")
		})
	}
}

func TestParseSplitAfterContentLeng(t *testing.T) {
	t.Parallel()

	input := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	cut := strings.Index(input, "Content-Leng") + len("Content-Leng")

	var body strings.Builder
	rc := &ResponseContext{OnBody: func(b []byte) { body.Write(b) }}

	first := pipe.NewSequence([]byte(input[:cut]))
	consumed, examined := Parse(first, rc)
	assert.Equal(t, StateHeaders, rc.State)
	assert.Equal(t, 200, rc.StatusCode)
	assert.Equal(t, pipe.Position(17), consumed, "start line retired")
	assert.Equal(t, first.End(), examined, "partial header line examined")

	all := pipe.NewSequence([]byte(input[:cut]), []byte(input[cut:]))
	consumed, examined = Parse(all.Slice(consumed, all.End()), rc)
	assert.Equal(t, StateCompleted, rc.State)
	assert.Equal(t, int64(5), rc.ContentLength)
	assert.Equal(t, "hello", body.String())
	assert.Equal(t, all.End(), consumed)
	assert.Equal(t, consumed, examined)
}

func TestParseSplitTerminator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frags []string
	}{
		{"after chunk data", []string{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r", "\n0\r\n\r\n"}},
		{"after last chunk", []string{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n0\r\n\r", "\n"}},
		{"after size line", []string{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r", "\nWiki\r\n0\r\n\r\n"}},
		{"end of headers", []string{"HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r", "\nx"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var body strings.Builder
			rc := &ResponseContext{OnBody: func(b []byte) { body.Write(b) }}

			first := pipe.NewSequence([]byte(tc.frags[0]))
			consumed, _ := Parse(first, rc)
			require.False(t, rc.State.Terminal(), "deferred, not failed: %v", rc.Err)

			all := pipe.NewSequence([]byte(tc.frags[0]), []byte(tc.frags[1]))
			Parse(all.Slice(consumed, all.End()), rc)
			assert.Equal(t, StateCompleted, rc.State, "err: %v", rc.Err)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	const chunkedHead = "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"

	tests := []struct {
		name  string
		input string
		code  errors.ProtocolError
	}{
		{"HTTP/1.0", "HTTP/1.0 200 OK\r\nContent-Length: 0\r\n\r\n", errors.ProtocolErrorUnsupportedVersion},
		{"lower-case version", "http/1.1 200 OK\r\n", errors.ProtocolErrorUnsupportedVersion},
		{"no delimiter", "HTTP/1.1\r\n", errors.ProtocolErrorMalformedStartLine},
		{"status not numeric", "HTTP/1.1 abc OK\r\n", errors.ProtocolErrorMalformedStartLine},
		{"status empty", "HTTP/1.1  OK\r\n", errors.ProtocolErrorMalformedStartLine},
		{"status trailing garbage", "HTTP/1.1 200x OK\r\n", errors.ProtocolErrorMalformedStartLine},
		{"status too long", "HTTP/1.1 12345678901 OK\r\n", errors.ProtocolErrorMalformedStartLine},
		{"status overflows", "HTTP/1.1 2147483648 OK\r\n", errors.ProtocolErrorMalformedStartLine},
		{"header without colon", "HTTP/1.1 200 OK\r\nBroken header\r\n\r\n", errors.ProtocolErrorMalformedHeaderLine},
		{"content length not numeric", "HTTP/1.1 200 OK\r\nContent-Length: five\r\n\r\n", errors.ProtocolErrorInvalidContentLength},
		{"content length negative", "HTTP/1.1 200 OK\r\nContent-Length: -1\r\n\r\n", errors.ProtocolErrorInvalidContentLength},
		{"content length empty", "HTTP/1.1 200 OK\r\nContent-Length:\r\n\r\n", errors.ProtocolErrorInvalidContentLength},
		{"content length too long", "HTTP/1.1 200 OK\r\nContent-Length: 12345678901234567890\r\n\r\n", errors.ProtocolErrorInvalidContentLength},
		{"content length overflows", "HTTP/1.1 200 OK\r\nContent-Length: 9223372036854775808\r\n\r\n", errors.ProtocolErrorInvalidContentLength},
		{"chunk size not hex", chunkedHead + strings.Repeat("z", 20) + "\r\n", errors.ProtocolErrorInvalidChunkSize},
		{"chunk size too long", chunkedHead + strings.Repeat("1", 17) + "\r\n", errors.ProtocolErrorInvalidChunkSize},
		{"chunk size overflows", chunkedHead + "8000000000000000\r\n", errors.ProtocolErrorInvalidChunkSize},
		{"chunk size empty", chunkedHead + "\r\n", errors.ProtocolErrorInvalidChunkSize},
		{"largest chunk size", chunkedHead + "7fffffffffffffff\r\n", errors.ProtocolErrorNone},
		{"chunk data too long", chunkedHead + "4\r\nWikiXX\r\n0\r\n\r\n", errors.ProtocolErrorMissingChunkTerminator},
		{"last chunk without CRLF", chunkedHead + "0\r\nXX", errors.ProtocolErrorMissingChunkTerminator},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if tc.code == errors.ProtocolErrorNone {
				// A single huge chunk is fine until its data is missing.
				res, rc := parseFragments(t, tc.input)
				assert.Equal(t, StateChunkedBody, res.State, "err: %v", rc.Err)
				return
			}

			for _, frags := range [][]string{{tc.input}, bytewise(tc.input)} {
				res, rc := parseFragments(t, frags...)
				require.Equal(t, StateError, res.State)
				require.NotNil(t, rc.Err)
				assert.True(t, errors.IsProtocolError(rc.Err, tc.code), "got %v", rc.Err)
			}
		})
	}
}

func TestParseDefersWithoutData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		state ResponseState
	}{
		{"", StateStartLine},
		{"HTTP/1.1 200 OK", StateStartLine},
		{"HTTP/1.1 200 OK\r", StateStartLine},
		{"HTTP/1.1 200 OK\r\nContent-Length: 100\r\n", StateHeaders},
		{"HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n", StateBody},
		{"HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nabc", StateBody},
		{"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWi", StateChunkedBody},
	}
	for _, tc := range tests {
		res, rc := parseFragments(t, tc.input)
		assert.Equal(t, tc.state, res.State, "%q", tc.input)
		assert.Nil(t, rc.Err, "%q", tc.input)
	}
}

func TestParseRejectsVersionBeforeLineEnd(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"HTTP/1.0 200", "HTTP/2 ", "http/1.1 200 OK"} {
		for _, frags := range [][]string{{input}, bytewise(input)} {
			res, rc := parseFragments(t, frags...)
			require.Equal(t, StateError, res.State, "%q", input)
			assert.True(t, errors.IsProtocolError(rc.Err, errors.ProtocolErrorUnsupportedVersion), "got %v", rc.Err)
		}
	}

	// A valid version still waits for the rest of the line.
	res, rc := parseFragments(t, "HTTP/1.1 20")
	assert.Equal(t, StateStartLine, res.State)
	assert.Nil(t, rc.Err)
}

func TestParseBodyAccounting(t *testing.T) {
	t.Parallel()

	head := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n"
	rc := &ResponseContext{}
	var got int

	rc.OnBody = func(b []byte) { got += len(b) }
	segs := [][]byte{[]byte(head)}
	var consumed pipe.Position
	for i, piece := range []string{"012", "3456", "789"} {
		segs = append(segs, []byte(piece))
		all := pipe.NewSequence(segs...)
		consumed, _ = Parse(all.Slice(consumed, all.End()), rc)
		assert.GreaterOrEqual(t, rc.ContentLengthRemaining, int64(0))
		if i < 2 {
			assert.Equal(t, StateBody, rc.State)
		}
	}
	assert.Equal(t, StateCompleted, rc.State)
	assert.Equal(t, 10, got)
	assert.Equal(t, int64(0), rc.ContentLengthRemaining)
}

func TestParseStopsAtMessageEnd(t *testing.T) {
	t.Parallel()

	first := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	second := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n"

	rc := &ResponseContext{}
	view := pipe.NewSequence([]byte(first + second))
	consumed, examined := Parse(view, rc)
	require.Equal(t, StateCompleted, rc.State)
	assert.Equal(t, pipe.Position(len(first)), consumed)
	assert.Equal(t, consumed, examined)

	// Parse is a no-op on a terminal state.
	c, e := Parse(view.Slice(consumed, view.End()), rc)
	assert.Equal(t, consumed, c)
	assert.Equal(t, consumed, e)

	rc.Reset()
	consumed, _ = Parse(view.Slice(consumed, view.End()), rc)
	assert.Equal(t, StateCompleted, rc.State)
	assert.Equal(t, view.End(), consumed)
}

func TestParseInferredChunkedFraming(t *testing.T) {
	t.Parallel()

	res, rc := parseFragments(t, "HTTP/1.1 200 OK\r\nServer: x\r\n\r\n3\r\nabc\r\n0\r\n\r\n")
	assert.Equal(t, StateCompleted, res.State)
	assert.True(t, rc.FramingInferred)
	assert.Equal(t, "abc", res.Body)

	_, rc = parseFragments(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\n\r\n0\r\n\r\n")
	assert.Equal(t, StateCompleted, rc.State)
	assert.False(t, rc.FramingInferred)

	// Without a length, a plain body is misread as a chunk size.
	res, _ = parseFragments(t, "HTTP/1.1 200 OK\r\n\r\nhello world\r\n")
	assert.Equal(t, StateError, res.State)
}

func TestParseContentLengthIsCaseSensitive(t *testing.T) {
	t.Parallel()

	_, rc := parseFragments(t, "HTTP/1.1 200 OK\r\ncontent-length: 2\r\n\r\n0\r\n\r\n")
	assert.Equal(t, StateCompleted, rc.State)
	assert.False(t, rc.HasContentLengthHeader)
	assert.True(t, rc.FramingInferred)
}

func TestParseThroughPipe(t *testing.T) {
	t.Parallel()

	input := wellFormed[2].input
	p := pipe.New(pipe.Options{SegmentSize: 8, MinimumReadSize: 1})
	defer p.Close()

	var body strings.Builder
	rc := &ResponseContext{OnBody: func(b []byte) { body.Write(b) }}
	ctx := context.Background()

	for i := 0; i < len(input) && !rc.State.Terminal(); i++ {
		buf := p.Reserve(1)
		buf[0] = input[i]
		require.NoError(t, p.Commit(ctx, 1))

		res, err := p.Wait(ctx)
		require.NoError(t, err)
		consumed, examined := Parse(res.Buffer, rc)
		require.NoError(t, p.Retire(consumed, examined))
	}

	require.Equal(t, StateCompleted, rc.State, "err: %v", rc.Err)
	assert.Equal(t, wellFormed[2].body, body.String())
	assert.Equal(t, int64(23), rc.ContentLength)
	assert.Equal(t, int64(0), p.Buffered())
}

func TestParseNumericTokensAcrossSegments(t *testing.T) {
	t.Parallel()

	tok := pipe.NewSequence([]byte("12"), []byte("34"), []byte("5"))
	n, ok := parseContentLength(tok)
	assert.True(t, ok)
	assert.Equal(t, int64(12345), n)

	n, ok = parseChunkSize(pipe.NewSequence([]byte("fF"), []byte("0a")))
	assert.True(t, ok)
	assert.Equal(t, int64(0xff0a), n)

	code, ok := parseStatusCode(pipe.NewSequence([]byte("2"), []byte("00")))
	assert.True(t, ok)
	assert.Equal(t, 200, code)

	n, ok = parseContentLength(pipe.NewSequence([]byte("922337203"), []byte("6854775807")))
	assert.True(t, ok)
	assert.Equal(t, int64(9223372036854775807), n)
}
