package httpclient

import (
	"bytes"
	"net/http"
	"slices"
)

// statusLineSize approximates "HTTP/1.1 200 OK\r\n" in received byte counts.
const statusLineSize = 12

// Response is an immutable snapshot of a completed call. Two responses are
// equal when their status, headers and body are equal. HTTP trailers are
// folded into the headers.
type Response struct {
	status  int
	headers http.Header
	body    []byte
	err     string
}

// NewResponse builds a Response that owns copies of headers and body.
func NewResponse(status int, headers http.Header, body []byte) *Response {
	return &Response{
		status:  status,
		headers: headers.Clone(),
		body:    bytes.Clone(body),
	}
}

// FailedResponse describes a call that produced no response.
func FailedResponse(msg string) *Response {
	return &Response{headers: http.Header{}, err: msg}
}

// Status returns the HTTP status code, or the gRPC status code for gRPC
// calls. It is 0 when the call failed before a response arrived.
func (r *Response) Status() int { return r.status }

// Header returns the first value of the named header, or "" if absent.
func (r *Response) Header(name string) (string, bool) {
	vs := r.headers.Values(name)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Headers returns a copy of all headers, first value per name.
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, vs := range r.headers {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// Body returns the response body. The returned slice must not be modified.
func (r *Response) Body() []byte { return r.body }

// Err returns the transport error message, or "" on success.
func (r *Response) Err() string { return r.err }

// Size estimates the bytes received: body plus header lines plus the status
// line.
func (r *Response) Size() int {
	n := len(r.body) + statusLineSize
	for k, vs := range r.headers {
		for _, v := range vs {
			n += len(k) + len(v) + 4
		}
	}
	return n
}

// Equal compares two responses by value.
func (r *Response) Equal(o *Response) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.status != o.status || r.err != o.err || !bytes.Equal(r.body, o.body) {
		return false
	}
	if len(r.headers) != len(o.headers) {
		return false
	}
	for k, vs := range r.headers {
		if !slices.Equal(vs, o.headers[k]) {
			return false
		}
	}
	return true
}

// BodyEquals reports whether the body equals p.
func (r *Response) BodyEquals(p []byte) bool {
	return bytes.Equal(r.body, p)
}

// BodyHasPrefixOf reports whether r's body equals the first n bytes of o's
// body. It is false when o's body is shorter than n.
func (r *Response) BodyHasPrefixOf(o *Response, n int) bool {
	if n < 0 || n > len(o.body) {
		return false
	}
	return bytes.Equal(r.body, o.body[:n])
}
