package pbwire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

const defaultBuilderCapacity = 256

// Builder is an append-only protobuf wire-format writer.
// A Builder is not safe for concurrent use.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 0, defaultBuilderCapacity)}
}

// Bool writes a varint field holding 1. False is omitted.
func (b *Builder) Bool(tag int32, v bool) *Builder {
	if !v {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, protowire.EncodeBool(v))
	return b
}

// Float writes a little-endian 32-bit field. Zero is omitted.
func (b *Builder) Float(tag int32, v float32) *Builder {
	if v == 0 {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.Fixed32Type)
	b.buf = protowire.AppendFixed32(b.buf, math.Float32bits(v))
	return b
}

// Double writes a little-endian 64-bit field. Zero is omitted.
func (b *Builder) Double(tag int32, v float64) *Builder {
	if v == 0 {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.Fixed64Type)
	b.buf = protowire.AppendFixed64(b.buf, math.Float64bits(v))
	return b
}

// Int32 writes a plain varint. Negative values are sign-extended to ten
// bytes, as protoc-generated code does.
func (b *Builder) Int32(tag int32, v int32) *Builder {
	return b.Int64(tag, int64(v))
}

// Int64 writes a plain varint.
func (b *Builder) Int64(tag int32, v int64) *Builder {
	if v == 0 {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, uint64(v))
	return b
}

// Uint64 writes a plain unsigned varint.
func (b *Builder) Uint64(tag int32, v uint64) *Builder {
	if v == 0 {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, v)
	return b
}

// Sint32 writes a zigzag varint.
func (b *Builder) Sint32(tag int32, v int32) *Builder {
	return b.Sint64(tag, int64(v))
}

// Sint64 writes a zigzag varint.
func (b *Builder) Sint64(tag int32, v int64) *Builder {
	if v == 0 {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, protowire.EncodeZigZag(v))
	return b
}

// String writes a length-delimited UTF-8 field. The empty string is omitted.
func (b *Builder) String(tag int32, v string) *Builder {
	if v == "" {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.BytesType)
	b.buf = protowire.AppendString(b.buf, v)
	return b
}

// Bytes writes a length-delimited field. An empty slice is omitted.
func (b *Builder) Bytes(tag int32, v []byte) *Builder {
	if len(v) == 0 {
		return b
	}
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, v)
	return b
}

// Message writes a pre-encoded nested message. Unlike the other setters it
// always writes the field, so an empty message encodes as key + zero length.
func (b *Builder) Message(tag int32, encoded []byte) *Builder {
	b.buf = protowire.AppendTag(b.buf, protowire.Number(tag), protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, encoded)
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Len reports the number of encoded bytes.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Encoded returns a copy of the encoded buffer.
func (b *Builder) Encoded() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// GRPCFrame returns the buffer wrapped in a gRPC length-prefixed frame,
// gzip-compressing the payload first when compressed is true.
func (b *Builder) GRPCFrame(compressed bool) ([]byte, error) {
	return PackFrame(b.buf, compressed)
}
