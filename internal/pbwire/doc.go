// Package pbwire builds and scans raw protobuf wire-format buffers without a
// schema compiler.
//
// Scenario scripts use it to craft synthetic protobuf and gRPC payloads:
//
//	b := pbwire.NewBuilder()
//	b.String(1, "hello").Int32(2, 42).Bool(3, false) // field 3 is omitted
//	frame, err := b.GRPCFrame(false)
//
// Every typed setter mirrors proto3 default omission: a field whose value is
// the zero value of its kind is not written at all. [Builder.Message] is the
// exception and always writes its field, even when the nested payload is empty.
//
// [Scanner] walks a buffer one field at a time and never fails on malformed or
// truncated input; it simply reports that no more fields are available.
package pbwire
