package proto

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation marks input that must end the connection.
var ErrProtocolViolation = errors.New("protocol violation")

// Reassembler turns an undelimited byte stream into envelopes. It keeps the
// trailing partial frame between calls to Feed. Not safe for concurrent use.
type Reassembler struct {
	buf          []byte
	maxFrameSize int
	// checked is how much of the partial frame at buf[0:] earlier scans
	// already validated.
	checked int
}

// NewReassembler returns a reassembler that refuses frames larger than
// maxFrameSize bytes, complete or not. Zero disables the limit.
func NewReassembler(maxFrameSize int) *Reassembler {
	return &Reassembler{maxFrameSize: maxFrameSize}
}

// Feed appends p and returns every complete frame now at the front of the
// buffer. Envelopes decoded before a violation are still returned alongside
// the error.
func (r *Reassembler) Feed(p []byte) ([]Envelope, error) {
	if need := len(r.buf) + len(p); need > cap(r.buf) {
		grown := make([]byte, len(r.buf), max(2*cap(r.buf), need, 512))
		copy(grown, r.buf)
		r.buf = grown
	}
	r.buf = append(r.buf, p...)

	var (
		out      []Envelope
		consumed int
		err      error
	)
	for consumed < len(r.buf) {
		trusted := 0
		if consumed == 0 {
			trusted = r.checked
		}
		st, n, checked, reason := scanFrame(r.buf[consumed:], trusted)
		if st == Incomplete {
			r.checked = checked
			if pending := len(r.buf) - consumed; r.maxFrameSize > 0 && pending > r.maxFrameSize {
				err = fmt.Errorf("%w: %d bytes buffered without a complete frame", ErrProtocolViolation, pending)
			}
			break
		}
		if st == Valid && r.maxFrameSize > 0 && n > r.maxFrameSize {
			err = fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrProtocolViolation, n, r.maxFrameSize)
			break
		}
		if st == Invalid {
			err = fmt.Errorf("%w: %w", ErrProtocolViolation, &FormatError{Status: st, Reason: reason})
			break
		}
		env, derr := Decode(r.buf[consumed : consumed+n])
		if derr != nil {
			err = fmt.Errorf("%w: %w", ErrProtocolViolation, derr)
			break
		}
		out = append(out, env)
		consumed += n
		r.checked = 0
	}

	if consumed > 0 {
		r.buf = append(r.buf[:0], r.buf[consumed:]...)
	}
	return out, err
}

// Buffered reports how many bytes of a partial frame are held.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}
