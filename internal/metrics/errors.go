package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"unicode"
)

// Error names shared by the HTTP and gRPC clients and the report.
const (
	StatusErrorName  = "Non 2xx and non 3xx status code"
	TimeoutErrorName = "Request timeout"
)

// ClassifyRequestError maps a transport failure to a stable, low-cardinality
// error name so that per-request details such as URLs and ports do not
// explode the error map.
func ClassifyRequestError(err error) string {
	if err == nil {
		return ""
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return TimeoutErrorName
	case errors.As(err, &netErr) && netErr.Timeout():
		return TimeoutErrorName
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "Request error: dns lookup failed for " + dnsErr.Name
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "Request error: connection refused"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "Request error: connection reset by peer"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return "Request error: connect failed"
		case "read":
			return "Request error: read failed"
		case "write":
			return "Request error: write failed"
		}
	}
	if errors.Is(err, context.Canceled) {
		return "Request error: canceled"
	}

	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return "Request error: " + FriendlyErrorName(fmt.Sprintf("%T", inner))
}

// SocketErrors groups error counts the way the text report prints them.
type SocketErrors struct {
	Connect uint64
	Read    uint64
	Write   uint64
	Timeout uint64
	Status  uint64
	Other   uint64
}

// CategorizeErrors buckets an error breakdown into socket error classes by
// inspecting the error names.
func CategorizeErrors(errs map[string]uint64) SocketErrors {
	var out SocketErrors
	for name, n := range errs {
		switch name {
		case StatusErrorName:
			out.Status += n
			continue
		case TimeoutErrorName:
			out.Timeout += n
			continue
		}
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "connect") || strings.Contains(lower, "dns") ||
			strings.Contains(lower, "resolve") || strings.Contains(lower, "refused"):
			out.Connect += n
		case strings.Contains(lower, "read") || strings.Contains(lower, "receive") ||
			strings.Contains(lower, "closed") || strings.Contains(lower, "reset") ||
			strings.Contains(lower, "response processing"):
			out.Read += n
		case strings.Contains(lower, "write") || strings.Contains(lower, "send"):
			out.Write += n
		default:
			out.Other += n
		}
	}
	return out
}

var friendlyAliases = map[string]string{
	"*url.Error":                     "Request URL error",
	"url.Error":                      "Request URL error",
	"*context.deadlineExceededError": "Context deadline exceeded",
	"context.deadlineExceededError":  "Context deadline exceeded",
	"context.deadlineExceeded":       "Context deadline exceeded",
	"*context.deadlineExceeded":      "Context deadline exceeded",
}

// FriendlyErrorName returns a human-friendly label for a Go error type name
// such as "*net.OpError".
func FriendlyErrorName(typeName string) string {
	cleaned := strings.TrimSpace(typeName)
	if cleaned == "" {
		return "Unknown error"
	}

	if alias, ok := friendlyAliases[cleaned]; ok {
		return alias
	}

	cleaned = strings.TrimPrefix(cleaned, "*")
	if alias, ok := friendlyAliases[cleaned]; ok {
		return alias
	}
	if idx := strings.LastIndex(cleaned, "/"); idx != -1 {
		cleaned = cleaned[idx+1:]
	}

	pkg := ""
	name := cleaned
	if idx := strings.Index(name, "."); idx != -1 {
		pkg = name[:idx]
		name = name[idx+1:]
	}

	pretty := humanizeTypeName(name)
	if pretty == "" {
		pretty = name
	}

	lowerPkg := strings.ToLower(pkg)
	lowerPretty := strings.ToLower(pretty)

	switch {
	case lowerPkg == "context" && strings.Contains(lowerPretty, "deadline"):
		return "Context deadline exceeded"
	case lowerPkg == "url" && strings.Contains(lowerPretty, "error"):
		return "Request URL error"
	}

	if pkg != "" && pkg != "main" {
		return fmt.Sprintf("%s (%s)", pretty, pkg)
	}
	return pretty
}

func humanizeTypeName(name string) string {
	if name == "" {
		return ""
	}

	var words []string
	var current []rune
	runes := []rune(name)

	appendWord := func() {
		if len(current) == 0 {
			return
		}
		word := string(current)
		if isAllUpper(word) {
			words = append(words, word)
		} else {
			words = append(words, capitalize(word))
		}
		current = current[:0]
	}

	for i, r := range runes {
		if i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsUpper(r) && (unicode.IsLower(prev) || (unicode.IsUpper(prev) && nextLower)) {
				appendWord()
			} else if unicode.IsDigit(r) && !unicode.IsDigit(prev) {
				appendWord()
			}
		}
		current = append(current, r)
	}
	appendWord()

	return strings.Join(words, " ")
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	runes := []rune(lower)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
