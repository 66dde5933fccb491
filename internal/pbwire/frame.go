package pbwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// FrameHeaderLen is the size of the gRPC message prefix: one compression flag
// byte followed by a big-endian uint32 payload length.
const FrameHeaderLen = 5

// PackFrame wraps payload in a gRPC frame. When compressed is true the
// payload is gzip-compressed and the compression flag is set.
func PackFrame(payload []byte, compressed bool) ([]byte, error) {
	flag := byte(0)
	if compressed {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip frame: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("gzip frame: %w", err)
		}
		payload = buf.Bytes()
		flag = 1
	}

	out := make([]byte, FrameHeaderLen+len(payload))
	out[0] = flag
	binary.BigEndian.PutUint32(out[1:FrameHeaderLen], uint32(len(payload)))
	copy(out[FrameHeaderLen:], payload)
	return out, nil
}

// UnpackFrame splits a gRPC frame into its compression flag and raw payload.
// The payload is returned as-is, without decompression. Input shorter than the
// header yields (false, empty); a header announcing more bytes than are
// available yields the flag and an empty payload.
func UnpackFrame(data []byte) (bool, []byte) {
	if len(data) < FrameHeaderLen {
		return false, []byte{}
	}
	compressed := data[0] == 1
	n := binary.BigEndian.Uint32(data[1:FrameHeaderLen])
	if uint64(len(data)-FrameHeaderLen) < uint64(n) {
		return compressed, []byte{}
	}
	return compressed, data[FrameHeaderLen : FrameHeaderLen+int(n)]
}

// DecodeFrame returns the payload of the first gRPC frame in data, gunzipped
// when the compression flag is set. ok is false for short, truncated or
// undecodable frames.
func DecodeFrame(data []byte) (payload []byte, ok bool) {
	if len(data) < FrameHeaderLen {
		return nil, false
	}
	n := binary.BigEndian.Uint32(data[1:FrameHeaderLen])
	if uint64(len(data)-FrameHeaderLen) < uint64(n) {
		return nil, false
	}
	payload = data[FrameHeaderLen : FrameHeaderLen+int(n)]
	if data[0] != 1 {
		return payload, true
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, false
	}
	return out, true
}
