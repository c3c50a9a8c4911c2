package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary frame codec of the Volcengine openspeech v3 websocket APIs. Every
// frame starts with a 4 byte header, optionally followed by a sequence
// number and event metadata, then a size-prefixed payload.

const protocolVersion uint8 = 0b0001

// FrameType is the 4 bit message type of a frame header.
type FrameType uint8

const (
	FullClientRequest       FrameType = 0b0001
	AudioOnlyRequest        FrameType = 0b0010
	FullServerResponse      FrameType = 0b1001
	AudioOnlyServerResponse FrameType = 0b1011
	ErrorFrame              FrameType = 0b1111
)

// FrameFlags is the 4 bit type-specific flag field.
type FrameFlags uint8

const (
	NoSequence       FrameFlags = 0b0000
	PositiveSequence FrameFlags = 0b0001
	LastNoSequence   FrameFlags = 0b0010
	NegativeSequence FrameFlags = 0b0011
	WithEvent        FrameFlags = 0b0100

	sequenceMask FrameFlags = 0b0011
)

// Event is the event code carried by frames flagged WithEvent.
type Event int32

const (
	EventNone               Event = 0
	EventStartConnection    Event = 1
	EventFinishConnection   Event = 2
	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52
	EventSessionStarted     Event = 150
	EventSessionFinished    Event = 152
	EventSessionFailed      Event = 153
)

// Serialization of the payload.
type Serialization uint8

const (
	RawSerialization  Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

// Compression of the payload.
type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// Header is the fixed 4 byte frame header.
type Header struct {
	Version       uint8
	Size          uint8 // in 4 byte words
	Type          FrameType
	Flags         FrameFlags
	Serialization Serialization
	Compression   Compression
}

// Frame is one decoded protocol frame.
type Frame struct {
	Header    Header
	Sequence  int32
	Event     Event
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func newHeader(t FrameType, flags FrameFlags, ser Serialization, comp Compression) Header {
	return Header{
		Version:       protocolVersion,
		Size:          1,
		Type:          t,
		Flags:         flags,
		Serialization: ser,
		Compression:   comp,
	}
}

func (h Header) bytes() [4]byte {
	return [4]byte{
		h.Version<<4 | h.Size,
		uint8(h.Type)<<4 | uint8(h.Flags),
		uint8(h.Serialization)<<4 | uint8(h.Compression),
		0,
	}
}

func parseHeader(b [4]byte) (Header, error) {
	h := Header{
		Version:       b[0] >> 4,
		Size:          b[0] & 0x0F,
		Type:          FrameType(b[1] >> 4),
		Flags:         FrameFlags(b[1] & 0x0F),
		Serialization: Serialization(b[2] >> 4),
		Compression:   Compression(b[2] & 0x0F),
	}
	if h.Version != protocolVersion {
		return Header{}, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	return h, nil
}

func hasSequence(flags FrameFlags) bool {
	s := flags & sequenceMask
	return s == PositiveSequence || s == NegativeSequence
}

// connection-level events carry a connect id instead of a session id.
func isConnectionEvent(e Event) bool {
	switch e {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

func carriesConnectID(e Event) bool {
	return e == EventConnectionStarted || e == EventConnectionFailed || e == EventConnectionFinished
}

// Marshal encodes the frame.
func (f *Frame) Marshal() []byte {
	hdr := f.Header.bytes()
	out := make([]byte, 0, 16+len(f.Payload))
	out = append(out, hdr[:]...)

	if hasSequence(f.Header.Flags) {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Sequence))
	}

	if f.Header.Flags&WithEvent != 0 {
		out = binary.BigEndian.AppendUint32(out, uint32(f.Event))
		if !isConnectionEvent(f.Event) {
			out = appendSized(out, []byte(f.SessionID))
		}
		if carriesConnectID(f.Event) {
			out = appendSized(out, []byte(f.ConnectID))
		}
	}

	if f.Header.Type == ErrorFrame {
		out = binary.BigEndian.AppendUint32(out, f.ErrorCode)
	}
	return appendSized(out, f.Payload)
}

func appendSized(out, data []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

// UnmarshalFrame decodes one frame from data.
func UnmarshalFrame(data []byte) (*Frame, error) {
	r := bytes.NewReader(data)

	var raw [4]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	hdr, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}

	if extra := int64(hdr.Size)*4 - 4; extra > 0 {
		if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("skip header extension: %w", err)
		}
	}

	f := &Frame{Header: hdr}

	if hasSequence(hdr.Flags) {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.Sequence = int32(seq)
	}

	if hdr.Flags&WithEvent != 0 {
		ev, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.Event = Event(int32(ev))

		if !isConnectionEvent(f.Event) {
			id, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
			f.SessionID = string(id)
		}
		if carriesConnectID(f.Event) {
			id, err := readSized(r)
			if err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
			f.ConnectID = string(id)
		}
	}

	if hdr.Type == ErrorFrame {
		if f.ErrorCode, err = readUint32(r); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	if f.Payload, err = readSized(r); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return f, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// readSized reads a length-prefixed field. The length must fit in what is
// left of the frame.
func readSized(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("field length %d exceeds remaining %d bytes", n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("expected %d bytes: %w", n, err)
	}
	return buf, nil
}

// IsLast reports whether the frame closes its stream.
func (f *Frame) IsLast() bool {
	s := f.Header.Flags & sequenceMask
	return s == LastNoSequence || s == NegativeSequence
}

// fullClientRequest wraps a JSON request payload.
func fullClientRequest(payload []byte, comp Compression) *Frame {
	return &Frame{
		Header:  newHeader(FullClientRequest, NoSequence, JSONSerialization, comp),
		Payload: payload,
	}
}

// audioRequest wraps one audio chunk. The last chunk carries a negated
// sequence number.
func audioRequest(chunk []byte, seq int32, last bool, comp Compression) *Frame {
	flags := PositiveSequence
	switch {
	case last && seq != 0:
		flags, seq = NegativeSequence, -seq
	case last:
		flags = LastNoSequence
	case seq <= 0:
		flags = NoSequence
	}
	return &Frame{
		Header:   newHeader(AudioOnlyRequest, flags, RawSerialization, comp),
		Sequence: seq,
		Payload:  chunk,
	}
}
