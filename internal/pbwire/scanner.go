package pbwire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire types as they appear in a field key.
const (
	WireVarint  = int(protowire.VarintType)
	WireFixed64 = int(protowire.Fixed64Type)
	WireBytes   = int(protowire.BytesType)
	WireFixed32 = int(protowire.Fixed32Type)
)

// Field is one decoded field. Bytes holds the raw varint bytes for varint
// fields, the fixed-width little-endian bytes for 32/64-bit fields and only the
// content (without the length prefix) for length-delimited fields.
type Field struct {
	Tag      int32
	WireType int
	Bytes    []byte
}

// Scanner is a forward-only field cursor over a byte buffer.
type Scanner struct {
	data []byte
	pos  int
}

// NewScanner returns a Scanner positioned at the start of data.
func NewScanner(data []byte) *Scanner {
	return &Scanner{data: data}
}

// Next decodes the next field. It returns false at the end of the buffer and
// on any malformed or truncated input; once it has returned false it keeps
// doing so.
func (s *Scanner) Next() (Field, bool) {
	if s.pos >= len(s.data) {
		return Field{}, false
	}
	rest := s.data[s.pos:]

	num, typ, n := protowire.ConsumeTag(rest)
	if n < 0 {
		s.pos = len(s.data)
		return Field{}, false
	}
	value := rest[n:]

	var content []byte
	var consumed int
	switch typ {
	case protowire.VarintType:
		_, m := protowire.ConsumeVarint(value)
		if m < 0 {
			s.pos = len(s.data)
			return Field{}, false
		}
		content, consumed = value[:m], m
	case protowire.Fixed32Type:
		if len(value) < 4 {
			s.pos = len(s.data)
			return Field{}, false
		}
		content, consumed = value[:4], 4
	case protowire.Fixed64Type:
		if len(value) < 8 {
			s.pos = len(s.data)
			return Field{}, false
		}
		content, consumed = value[:8], 8
	case protowire.BytesType:
		v, m := protowire.ConsumeBytes(value)
		if m < 0 {
			s.pos = len(s.data)
			return Field{}, false
		}
		content, consumed = v, m
	default:
		// groups are not supported
		s.pos = len(s.data)
		return Field{}, false
	}

	s.pos += n + consumed
	return Field{Tag: int32(num), WireType: int(typ), Bytes: content}, true
}

// Remaining reports how many bytes are left to scan.
func (s *Scanner) Remaining() int {
	if s.pos >= len(s.data) {
		return 0
	}
	return len(s.data) - s.pos
}

var errShortValue = errors.New("pbwire: not enough bytes")

// ParseBool interprets varint field bytes as a bool.
func ParseBool(b []byte) (bool, error) {
	v, err := ParseUint(b)
	if err != nil {
		return false, err
	}
	return protowire.DecodeBool(v), nil
}

// ParseFloat interprets 32-bit field bytes as a float.
func ParseFloat(b []byte) (float32, error) {
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, fmt.Errorf("float: %w", errShortValue)
	}
	return math.Float32frombits(v), nil
}

// ParseDouble interprets 64-bit field bytes as a double.
func ParseDouble(b []byte) (float64, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, fmt.Errorf("double: %w", errShortValue)
	}
	return math.Float64frombits(v), nil
}

// ParseUint interprets varint field bytes as an unsigned integer.
func ParseUint(b []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("varint: %w", protowire.ParseError(n))
	}
	return v, nil
}

// ParseInt interprets varint field bytes as an int64 (int32 and int64 fields).
func ParseInt(b []byte) (int64, error) {
	v, err := ParseUint(b)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// ParseSint32 interprets zigzag varint field bytes as an int32.
func ParseSint32(b []byte) (int32, error) {
	v, err := ParseUint(b)
	if err != nil {
		return 0, err
	}
	n := uint32(v)
	return int32(n>>1) ^ -int32(n&1), nil
}

// ParseSint64 interprets zigzag varint field bytes as an int64.
func ParseSint64(b []byte) (int64, error) {
	v, err := ParseUint(b)
	if err != nil {
		return 0, err
	}
	return protowire.DecodeZigZag(v), nil
}

// ParseString interprets length-delimited content as a string. Invalid UTF-8
// is passed through untouched.
func ParseString(b []byte) string {
	return string(b)
}
