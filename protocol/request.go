package protocol

// BuildRequest appends the wire form of req to dst and returns the result
func BuildRequest(dst []byte, req *HttpRequest) []byte {
	path := req.Path
	if path == "" {
		path = "/"
	}

	// Request line
	dst = append(dst, req.Method.String()...)
	dst = append(dst, ' ')
	dst = append(dst, path...)
	dst = append(dst, " HTTP/1.1\r\n"...)

	// Headers
	for _, header := range req.Headers {
		dst = append(dst, header.Key...)
		dst = append(dst, ": "...)
		dst = append(dst, header.Value...)
		dst = append(dst, newLine...)
	}

	// Blank line
	dst = append(dst, newLine...)

	// Body (for POST)
	if req.Method == MethodPost && len(req.Body) > 0 {
		dst = append(dst, req.Body...)
	}
	return dst
}
