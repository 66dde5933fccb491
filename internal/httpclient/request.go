package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var allowedMethods = map[string]string{
	"GET":    http.MethodGet,
	"POST":   http.MethodPost,
	"PUT":    http.MethodPut,
	"DELETE": http.MethodDelete,
	"PATCH":  http.MethodPatch,
	"HEAD":   http.MethodHead,
}

// Request describes one scripted HTTP call.
type Request struct {
	// Method is matched case-insensitively; unknown or empty methods fall
	// back to GET.
	Method string
	// URL is absolute or a path appended to the executor's base URL. Empty
	// means "/".
	URL     string
	Headers map[string]string
	Body    []byte
	// JSON marks Body as an encoded JSON document; Content-Type defaults to
	// application/json.
	JSON bool
	// SkipStatusCheck disables recording non-2xx/3xx statuses as errors.
	SkipStatusCheck bool
}

// NormalizeMethod maps a script-supplied method to one of the supported verbs.
func NormalizeMethod(m string) string {
	if v, ok := allowedMethods[strings.ToUpper(strings.TrimSpace(m))]; ok {
		return v
	}
	return http.MethodGet
}

// ResolveURL appends a relative target to base. Targets starting with "http"
// are used verbatim.
func ResolveURL(base, target string) string {
	if target == "" {
		target = "/"
	}
	if strings.HasPrefix(target, "http") {
		return target
	}
	return strings.TrimSuffix(base, "/") + ensureLeadingSlash(target)
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "?") {
		return p
	}
	return "/" + p
}

func validateHeaders(headers map[string]string) (http.Header, error) {
	out := make(http.Header, len(headers))
	for key, value := range headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		out.Set(canonicalKey, value)
	}
	return out, nil
}

func buildRequest(ctx context.Context, base string, r Request) (*http.Request, error) {
	target := ResolveURL(base, r.URL)
	headers, err := validateHeaders(r.Headers)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, NormalizeMethod(r.Method), target, bytes.NewReader(r.Body))
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("invalid url %q", target)
		}
		return nil, err
	}
	if len(r.Body) == 0 {
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
	}
	req.Header = headers
	if r.JSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// requestSize approximates the bytes written for req: the request line, the
// Host header, every other header line, the blank line and the body.
func requestSize(req *http.Request, bodyLen int) int {
	n := len(req.Method) + 1 + len(req.URL.RequestURI()) + len(" HTTP/1.1\r\n")
	n += len("Host: ") + len(req.URL.Host) + 2
	for k, vs := range req.Header {
		for _, v := range vs {
			n += len(k) + len(v) + 4
		}
	}
	return n + 2 + bodyLen
}
