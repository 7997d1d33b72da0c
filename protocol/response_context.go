package protocol

import (
	"github.com/nczempin/httpc-go-pipe/errors"
)

// ResponseState is the position of a response in the parse state machine
type ResponseState int

const (
	StateStartLine ResponseState = iota
	StateHeaders
	StateBody
	StateChunkedBody
	StateCompleted
	StateError
)

func (s ResponseState) String() string {
	switch s {
	case StateStartLine:
		return "StartLine"
	case StateHeaders:
		return "Headers"
	case StateBody:
		return "Body"
	case StateChunkedBody:
		return "ChunkedBody"
	case StateCompleted:
		return "Completed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further parsing can change the state
func (s ResponseState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

type chunkPhase uint8

const (
	chunkPhaseSize     chunkPhase = iota // expecting a chunk-size line
	chunkPhaseData                       // inside chunk data
	chunkPhaseDataEnd                    // expecting CRLF after chunk data
	chunkPhaseLastEnd                    // expecting CRLF after the zero-size chunk
)

// ResponseContext carries one response through the parser. It is owned by
// a single exchange at a time and mutated only by Parse.
type ResponseContext struct {
	State      ResponseState
	StatusCode int

	// ContentLength is the declared body length, or for a chunked body the
	// sum of all chunk sizes seen so far.
	ContentLength          int64
	ContentLengthRemaining int64
	HasContentLengthHeader bool

	// ChunkRemaining is the number of data bytes still owed by the current
	// chunk.
	ChunkRemaining int64

	// FramingInferred is set when the body was read as chunked only because
	// Content-Length was missing, without a Transfer-Encoding declaration.
	FramingInferred bool

	// Err describes why State is StateError
	Err *errors.HttpError

	// OnBody, if set, receives each contiguous piece of body data. The slice
	// aliases the connection buffer and must not be retained.
	OnBody func([]byte)

	chunkedDeclared bool
	chunkPhase      chunkPhase
}

// Reset prepares the context for the next response. OnBody is kept.
func (rc *ResponseContext) Reset() {
	*rc = ResponseContext{OnBody: rc.OnBody}
}

func (rc *ResponseContext) fail(code errors.ProtocolError, message string) {
	rc.abort(errors.NewProtocolError(code, message))
}

// abort moves the response into StateError and returns err for convenience
func (rc *ResponseContext) abort(err *errors.HttpError) error {
	rc.State = StateError
	rc.Err = err
	return err
}
