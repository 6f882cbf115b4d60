package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the tag byte plus the big-endian uint16 length.
const HeaderSize = 3

// MaxPayload is the largest length the header can declare.
const MaxPayload = math.MaxUint16

var (
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidMessageType = errors.New("invalid message type")
)

// Header is a decoded frame header. Length is authoritative even when Type is Invalid.
type Header struct {
	Type   MessageType
	Length uint16
}

// WellFormed reports whether the declared length fits the type.
// Invalid headers are never well formed.
func (h Header) WellFormed() bool {
	if h.Type == Invalid {
		return false
	}
	if n, fixed := h.Type.PayloadSize(); fixed {
		return int(h.Length) == n
	}
	return true
}

// Frame is one complete message.
type Frame struct {
	Type    MessageType
	Payload []byte
}

func (f Frame) String() string { return fmt.Sprintf("%s(%d)", f.Type, len(f.Payload)) }

func validate(t MessageType, payload []byte) error {
	if t >= Invalid {
		return fmt.Errorf("%w: cannot encode %s", ErrInvalidMessageType, t)
	}
	if n, fixed := t.PayloadSize(); fixed && len(payload) != n {
		return fmt.Errorf("%w: %s expects %d bytes, got %d", ErrInvalidPayload, t, n, len(payload))
	}
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %s payload of %d bytes exceeds %d", ErrInvalidPayload, t, len(payload), MaxPayload)
	}
	return nil
}

// Encode validates payload for t and returns header and payload as one buffer.
func Encode(t MessageType, payload []byte) ([]byte, error) {
	if err := validate(t, payload); err != nil {
		return nil, err
	}
	b := make([]byte, HeaderSize+len(payload))
	b[0] = byte(t)
	binary.BigEndian.PutUint16(b[1:HeaderSize], uint16(len(payload)))
	copy(b[HeaderSize:], payload)
	return b, nil
}

// DecodeHeader parses the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("short header: %d bytes", len(b))
	}
	return Header{
		Type:   ParseMessageType(b[0]),
		Length: binary.BigEndian.Uint16(b[1:HeaderSize]),
	}, nil
}

// Decode parses a complete frame held in b. Trailing bytes are an error.
func Decode(b []byte) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	if len(b)-HeaderSize != int(h.Length) {
		return Frame{}, fmt.Errorf("%w: header declares %d bytes, frame holds %d", ErrInvalidPayload, h.Length, len(b)-HeaderSize)
	}
	p := make([]byte, h.Length)
	copy(p, b[HeaderSize:])
	return Frame{Type: h.Type, Payload: p}, nil
}

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return DecodeHeader(buf[:])
}

// ReadPayload reads the h.Length payload bytes that follow h.
func ReadPayload(r io.Reader, h Header) ([]byte, error) {
	p := make([]byte, h.Length)
	if _, err := io.ReadFull(r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return p, nil
}

// Discard skips the payload of h.
func Discard(r io.Reader, h Header) error {
	_, err := io.CopyN(io.Discard, r, int64(h.Length))
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// ReadFrame reads a header and its payload. The frame is returned unvalidated.
func ReadFrame(r io.Reader) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	p, err := ReadPayload(r, h)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: h.Type, Payload: p}, nil
}

// WriteFrame encodes and writes a frame in a single Write call.
func WriteFrame(w io.Writer, t MessageType, payload []byte) error {
	b, err := Encode(t, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
