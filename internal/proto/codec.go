// Package proto implements the scopechat wire format: little-endian,
// length-prefixed ASCII fields grouped into typed frames.
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxFieldLength bounds any single string field on the wire.
const MaxFieldLength = 1 << 20

const lengthSize = 4

// Status classifies a candidate buffer before decoding.
type Status int

const (
	// Incomplete means more bytes are needed before the frame can be judged.
	Incomplete Status = iota
	// Invalid means the bytes can never form a frame.
	Invalid
	// Valid means the buffer holds exactly one frame.
	Valid
)

func (s Status) String() string {
	switch s {
	case Incomplete:
		return "incomplete"
	case Invalid:
		return "invalid"
	case Valid:
		return "valid"
	default:
		return "unknown"
	}
}

var (
	// ErrNonASCII is returned when a string field holds bytes outside 0-127.
	ErrNonASCII = errors.New("non-ASCII string")
	// ErrFieldTooLong is returned when a string exceeds MaxFieldLength.
	ErrFieldTooLong = errors.New("field too long")
	// ErrUnknownFrameType is returned when encoding an envelope with a bad tag.
	ErrUnknownFrameType = errors.New("unknown frame type")
	// ErrUnknownRequest is returned when encoding a command with a bad request tag.
	ErrUnknownRequest = errors.New("unknown request type")
)

// FormatError reports a buffer that is not exactly one valid frame.
type FormatError struct {
	Status Status
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed frame (%s): %s", e.Status, e.Reason)
}

// reader walks a buffer field by field. Once a field fails, status sticks
// and all later reads are no-ops.
//
// A scanning reader validates without building strings. Fields ending at or
// before trusted were checked by an earlier scan of the same bytes and are
// not rescanned for ASCII.
type reader struct {
	buf     []byte
	off     int
	status  Status
	reason  string
	scan    bool
	trusted int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf, status: Valid}
}

func newScanner(buf []byte, trusted int) *reader {
	return &reader{buf: buf, status: Valid, scan: true, trusted: trusted}
}

func (r *reader) ok() bool {
	return r.status == Valid
}

func (r *reader) fail(st Status, reason string) {
	if r.ok() {
		r.status = st
		r.reason = reason
	}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) byteField(name string) byte {
	if !r.ok() {
		return 0
	}
	if r.remaining() < 1 {
		r.fail(Incomplete, name+": missing")
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) int32Field(name string) int32 {
	if !r.ok() {
		return 0
	}
	if r.remaining() < lengthSize {
		r.fail(Incomplete, name+": short header")
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += lengthSize
	return v
}

func (r *reader) stringField(name string) string {
	n := r.int32Field(name)
	if !r.ok() {
		return ""
	}
	switch {
	case n < 0:
		r.fail(Invalid, fmt.Sprintf("%s: negative length %d", name, n))
		return ""
	case n > MaxFieldLength:
		r.fail(Invalid, fmt.Sprintf("%s: length %d exceeds %d", name, n, MaxFieldLength))
		return ""
	case r.remaining() < int(n):
		// Checked on every pass, so a bad byte is caught before the field completes.
		if !isASCII(r.buf[max(r.off, r.trusted):]) {
			r.fail(Invalid, name+": non-ASCII bytes")
			return ""
		}
		r.fail(Incomplete, name+": short body")
		return ""
	}
	end := r.off + int(n)
	if !isASCII(r.buf[max(r.off, r.trusted):end]) {
		r.fail(Invalid, name+": non-ASCII bytes")
		return ""
	}
	raw := r.buf[r.off:end]
	r.off = end
	if r.scan {
		return ""
	}
	return string(raw)
}

func (r *reader) message() ChatMessage {
	var m ChatMessage
	switch flag := r.byteField("inject flag"); {
	case !r.ok():
	case flag > 1:
		r.fail(Invalid, fmt.Sprintf("inject flag: bad value %d", flag))
	default:
		m.Inject = flag == 1
	}
	m.Channel = r.stringField("channel")
	m.Text = r.stringField("text")
	m.Sender = r.stringField("sender")
	return m
}

func (r *reader) command() ChannelCommand {
	var c ChannelCommand
	c.Request = RequestType(r.int32Field("request type"))
	if r.ok() && !c.Request.valid() {
		r.fail(Invalid, fmt.Sprintf("request type: unknown tag %d", c.Request))
	}
	c.Channel = r.stringField("channel")
	c.Password = r.stringField("password")
	return c
}

func (r *reader) envelope() Envelope {
	var env Envelope
	env.Type = FrameType(r.int32Field("frame type"))
	if !r.ok() {
		return env
	}
	switch env.Type {
	case FrameMessage:
		env.Message = r.message()
	case FrameChannelCommand:
		env.Command = r.command()
	default:
		r.fail(Invalid, fmt.Sprintf("frame type: unknown tag %d", env.Type))
	}
	return env
}

// exact turns a prefix walk into a whole-buffer verdict.
func (r *reader) exact() (Status, string) {
	if !r.ok() {
		return r.status, r.reason
	}
	if r.off != len(r.buf) {
		return Invalid, fmt.Sprintf("%d trailing bytes", len(r.buf)-r.off)
	}
	return Valid, ""
}

// ClassifyMessage reports whether buf is exactly one chat message payload.
func ClassifyMessage(buf []byte) Status {
	r := newReader(buf)
	r.message()
	st, _ := r.exact()
	return st
}

// ClassifyCommand reports whether buf is exactly one channel command payload.
func ClassifyCommand(buf []byte) Status {
	r := newReader(buf)
	r.command()
	st, _ := r.exact()
	return st
}

// Classify reports whether buf is exactly one outer frame.
func Classify(buf []byte) Status {
	r := newReader(buf)
	r.envelope()
	st, _ := r.exact()
	return st
}

// Scan classifies the leading frame of buf. On Valid, n is the length of
// that frame; trailing bytes belong to later frames and are not inspected.
func Scan(buf []byte) (Status, int) {
	st, n, _, _ := scanFrame(buf, 0)
	return st, n
}

// scanFrame walks the leading frame without copying fields. Bytes before trusted
// were already checked by a previous call on the same buffer. On Incomplete,
// checked reports how far this call validated, for the next call's trusted.
func scanFrame(buf []byte, trusted int) (st Status, n, checked int, reason string) {
	r := newScanner(buf, trusted)
	r.envelope()
	if !r.ok() {
		return r.status, 0, len(buf), r.reason
	}
	return Valid, r.off, r.off, ""
}

// DecodeMessage decodes a buffer holding exactly one chat message payload.
func DecodeMessage(buf []byte) (ChatMessage, error) {
	r := newReader(buf)
	m := r.message()
	if st, reason := r.exact(); st != Valid {
		return ChatMessage{}, &FormatError{Status: st, Reason: reason}
	}
	return m, nil
}

// DecodeCommand decodes a buffer holding exactly one channel command payload.
func DecodeCommand(buf []byte) (ChannelCommand, error) {
	r := newReader(buf)
	c := r.command()
	if st, reason := r.exact(); st != Valid {
		return ChannelCommand{}, &FormatError{Status: st, Reason: reason}
	}
	return c, nil
}

// Decode decodes a buffer holding exactly one outer frame.
func Decode(buf []byte) (Envelope, error) {
	r := newReader(buf)
	env := r.envelope()
	if st, reason := r.exact(); st != Valid {
		return Envelope{}, &FormatError{Status: st, Reason: reason}
	}
	return env, nil
}

// EncodeMessage encodes a chat message payload.
func EncodeMessage(m ChatMessage) ([]byte, error) {
	return appendMessage(nil, m)
}

// EncodeCommand encodes a channel command payload.
func EncodeCommand(c ChannelCommand) ([]byte, error) {
	return appendCommand(nil, c)
}

// Encode encodes an envelope as a tagged outer frame.
func Encode(env Envelope) ([]byte, error) {
	dst := binary.LittleEndian.AppendUint32(nil, uint32(env.Type))
	switch env.Type {
	case FrameMessage:
		return appendMessage(dst, env.Message)
	case FrameChannelCommand:
		return appendCommand(dst, env.Command)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrameType, env.Type)
	}
}

func appendMessage(dst []byte, m ChatMessage) ([]byte, error) {
	var flag byte
	if m.Inject {
		flag = 1
	}
	dst = append(dst, flag)
	return appendStrings(dst, m.Channel, m.Text, m.Sender)
}

func appendCommand(dst []byte, c ChannelCommand) ([]byte, error) {
	if !c.Request.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, c.Request)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(c.Request))
	return appendStrings(dst, c.Channel, c.Password)
}

func appendStrings(dst []byte, fields ...string) ([]byte, error) {
	var err error
	for _, s := range fields {
		if dst, err = appendString(dst, s); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > MaxFieldLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(s))
	}
	if !isASCII([]byte(s)) {
		return nil, fmt.Errorf("%w: %q", ErrNonASCII, s)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...), nil
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c > 0x7f {
			return false
		}
	}
	return true
}
