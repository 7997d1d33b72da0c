package protocol

import (
	"math"

	"github.com/nczempin/httpc-go-pipe/errors"
	"github.com/nczempin/httpc-go-pipe/pipe"
)

var (
	http11           = []byte("HTTP/1.1")
	newLine          = []byte("\r\n")
	contentLength    = []byte("Content-Length")
	transferEncoding = []byte("Transfer-Encoding")
	chunked          = []byte("chunked")
)

// Parse advances rc through as much of view as its current state allows.
//
// consumed is the position before which the bytes are finished with and
// may be reclaimed. examined is how far Parse looked: the end of view when
// it stopped for lack of data, the consumed position once the response
// reached a terminal state. Running out of data is not an error; the caller
// calls Parse again with a longer view.
//
// Parse is a no-op on a terminal state.
func Parse(view pipe.Sequence, rc *ResponseContext) (consumed, examined pipe.Position) {
	r := pipe.NewReader(view)
	for {
		var next bool
		switch rc.State {
		case StateStartLine:
			next = parseStartLine(&r, rc)
		case StateHeaders:
			next = parseHeaders(&r, rc)
		case StateBody:
			next = parseBody(&r, rc)
		case StateChunkedBody:
			next = parseChunkedBody(&r, rc)
		default:
			return r.Position(), r.Position()
		}
		if !next {
			return r.Position(), view.End()
		}
	}
}

// Each state function returns true when it changed the state and parsing
// should continue under the new one, false when it needs more data.

func parseStartLine(r *pipe.Reader, rc *ResponseContext) bool {
	// The version is judged as soon as its delimiter arrives, without
	// waiting for the rest of the line.
	unread := r.Unread()
	lineEnd, haveLine := unread.Index(newLine)
	space, haveSpace := unread.IndexByte(' ')
	if haveSpace && (!haveLine || space < lineEnd) {
		if !unread.Slice(unread.Start(), space).Equal(http11) {
			rc.fail(errors.ProtocolErrorUnsupportedVersion, "version is not HTTP/1.1")
			return true
		}
	}
	if !haveLine {
		return false
	}

	line, _ := r.TryReadTo(newLine)
	if !haveSpace || space > lineEnd {
		rc.fail(errors.ProtocolErrorMalformedStartLine, "missing delimiter after version")
		return true
	}

	// The reason phrase is optional; without it the code runs to the end of the line.
	rest := line.Slice(space+1, line.End())
	code := rest
	if space, ok := rest.IndexByte(' '); ok {
		code = rest.Slice(rest.Start(), space)
	}
	status, ok := parseStatusCode(code)
	if !ok {
		rc.fail(errors.ProtocolErrorMalformedStartLine, "invalid status code")
		return true
	}

	rc.StatusCode = status
	rc.State = StateHeaders
	return true
}

func parseHeaders(r *pipe.Reader, rc *ResponseContext) bool {
	for {
		line, ok := r.TryReadTo(newLine)
		if !ok {
			return false
		}

		if line.IsEmpty() {
			if rc.HasContentLengthHeader {
				rc.State = StateBody
			} else {
				rc.State = StateChunkedBody
				rc.FramingInferred = !rc.chunkedDeclared
			}
			return true
		}

		if !parseHeader(line, rc) {
			return true
		}
	}
}

func parseHeader(line pipe.Sequence, rc *ResponseContext) bool {
	colon, ok := line.IndexByte(':')
	if !ok {
		rc.fail(errors.ProtocolErrorMalformedHeaderLine, "missing ':' separator")
		return false
	}

	name := line.Slice(line.Start(), colon)
	value := line.Slice(colon+1, line.End()).TrimSpace()

	switch {
	case name.Equal(contentLength):
		n, ok := parseContentLength(value)
		if !ok {
			rc.fail(errors.ProtocolErrorInvalidContentLength, "Content-Length is not a bounded decimal")
			return false
		}
		rc.HasContentLengthHeader = true
		rc.ContentLength = n
		rc.ContentLengthRemaining = n
	case name.Equal(transferEncoding):
		if value.Contains(chunked) {
			rc.chunkedDeclared = true
		}
	}
	return true
}

func parseBody(r *pipe.Reader, rc *ResponseContext) bool {
	if rc.ContentLengthRemaining > 0 {
		n := min(rc.ContentLengthRemaining, r.Remaining())
		r.AdvanceFunc(n, rc.OnBody)
		rc.ContentLengthRemaining -= n
	}
	if rc.ContentLengthRemaining == 0 {
		rc.State = StateCompleted
		return true
	}
	return false
}

func parseChunkedBody(r *pipe.Reader, rc *ResponseContext) bool {
	for {
		switch rc.chunkPhase {
		case chunkPhaseData:
			n := min(rc.ChunkRemaining, r.Remaining())
			r.AdvanceFunc(n, rc.OnBody)
			rc.ChunkRemaining -= n
			if rc.ChunkRemaining > 0 {
				return false
			}
			rc.chunkPhase = chunkPhaseDataEnd

		case chunkPhaseDataEnd, chunkPhaseLastEnd:
			if r.Remaining() < int64(len(newLine)) {
				return false
			}
			if !r.IsNext(newLine, true) {
				rc.fail(errors.ProtocolErrorMissingChunkTerminator, "expected CRLF after chunk")
				return true
			}
			if rc.chunkPhase == chunkPhaseLastEnd {
				rc.State = StateCompleted
				return true
			}
			rc.chunkPhase = chunkPhaseSize

		default:
			line, ok := r.TryReadTo(newLine)
			if !ok {
				return false
			}
			// Chunk extensions are ignored.
			if semi, ok := line.IndexByte(';'); ok {
				line = line.Slice(line.Start(), semi)
			}
			size, ok := parseChunkSize(line.TrimSpace())
			if !ok {
				rc.fail(errors.ProtocolErrorInvalidChunkSize, "chunk size is not a bounded hex number")
				return true
			}
			if size == 0 {
				rc.chunkPhase = chunkPhaseLastEnd
				continue
			}
			if rc.ContentLength > math.MaxInt64-size {
				rc.fail(errors.ProtocolErrorInvalidChunkSize, "chunked body length overflows")
				return true
			}
			rc.ContentLength += size
			rc.ChunkRemaining = size
			rc.chunkPhase = chunkPhaseData
		}
	}
}
