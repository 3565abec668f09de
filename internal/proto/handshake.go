package proto

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeHandshake encodes the name a client announces right after connecting.
func EncodeHandshake(name string) ([]byte, error) {
	return appendString(nil, name)
}

// ScanHandshake classifies the handshake frame at the start of buf.
// On Valid it returns the name and the number of bytes consumed.
func ScanHandshake(buf []byte) (string, Status, int) {
	r := newReader(buf)
	name := r.stringField("name")
	if !r.ok() {
		return "", r.status, 0
	}
	return name, Valid, r.off
}

// ReadHandshake reads exactly one handshake frame from r. Names longer than
// maxLen are rejected before their bytes are read.
func ReadHandshake(r io.Reader, maxLen int) (string, error) {
	var header [lengthSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", fmt.Errorf("read handshake header: %w", err)
	}
	n := int32(binary.LittleEndian.Uint32(header[:]))
	if n < 0 || int(n) > maxLen {
		return "", &FormatError{Status: Invalid, Reason: fmt.Sprintf("handshake: name length %d out of range", n)}
	}
	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return "", fmt.Errorf("read handshake name: %w", err)
	}
	if !isASCII(name) {
		return "", &FormatError{Status: Invalid, Reason: "handshake: non-ASCII name"}
	}
	return string(name), nil
}
