package protocol

// HttpMethod represents HTTP request methods
type HttpMethod int

const (
	MethodGet HttpMethod = iota
	MethodPost
)

func (m HttpMethod) String() string {
	if m == MethodPost {
		return "POST"
	}
	return "GET"
}

// HttpHeader represents an HTTP header key-value pair
type HttpHeader struct {
	Key   string
	Value string
}

// HttpRequest represents an HTTP request
type HttpRequest struct {
	Method  HttpMethod
	Path    string
	Headers []HttpHeader
	Body    []byte
}

// HttpResponse represents an HTTP response (safe mode - copies data)
type HttpResponse struct {
	StatusCode int
	Body       []byte
	// ContentLength is the declared length, or the sum of chunk sizes
	// for a chunked body
	ContentLength int64
	Chunked       bool
}

// UnsafeHttpResponse represents an HTTP response (unsafe mode - references buffer)
// The body is only valid until the protocol performs its next request
type UnsafeHttpResponse struct {
	StatusCode    int
	Body          []byte
	ContentLength int64
	Chunked       bool
}
