package proto

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// MessageType is the one-byte tag leading every frame.
type MessageType uint8

const (
	// Connect carries a peer's IPv4 address and port (server -> client).
	Connect MessageType = iota
	// Open registers an identifier (handshake) or requests an introduction.
	Open
	// Accept answers the most recent introduction request.
	Accept
	// Error is human-readable text describing a rejected operation.
	Error
	// Chat is opaque text, never interpreted by the server.
	Chat
	// Invalid marks an unknown tag; it is never sent.
	Invalid
)

var typeNames = [...]string{"CONNECT", "OPEN", "ACCEPT", "ERROR", "CHAT", "INVALID"}

func (t MessageType) String() string {
	if t > Invalid {
		return typeNames[Invalid]
	}
	return typeNames[t]
}

// ParseMessageType maps a wire tag to a known type, Invalid when out of range.
func ParseMessageType(tag byte) MessageType {
	if tag >= byte(Invalid) {
		return Invalid
	}
	return MessageType(tag)
}

// Fixed payload sizes.
const (
	ConnectSize = 6
	OpenSize    = 8
	AcceptSize  = 1
)

// PayloadSize reports the fixed payload length of t, if it has one.
func (t MessageType) PayloadSize() (int, bool) {
	switch t {
	case Connect:
		return ConnectSize, true
	case Open:
		return OpenSize, true
	case Accept:
		return AcceptSize, true
	}
	return 0, false
}

// EncodeID encodes a 64-bit identifier as an OPEN payload.
func EncodeID(id uint64) []byte {
	b := make([]byte, OpenSize)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func DecodeID(p []byte) (uint64, error) {
	if len(p) != OpenSize {
		return 0, fmt.Errorf("%w: OPEN expects %d bytes, got %d", ErrInvalidPayload, OpenSize, len(p))
	}
	return binary.BigEndian.Uint64(p), nil
}

// EncodeAccept encodes an ACCEPT payload.
func EncodeAccept(ok bool) []byte {
	if ok {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeAccept treats any nonzero byte as acceptance.
func DecodeAccept(p []byte) (bool, error) {
	if len(p) != AcceptSize {
		return false, fmt.Errorf("%w: ACCEPT expects %d byte, got %d", ErrInvalidPayload, AcceptSize, len(p))
	}
	return p[0] != 0, nil
}

// EncodeEndpoint encodes an IPv4 address and port as a CONNECT payload.
func EncodeEndpoint(ep netip.AddrPort) ([]byte, error) {
	addr := ep.Addr().Unmap()
	if !addr.Is4() {
		return nil, fmt.Errorf("%w: CONNECT requires an IPv4 address, got %s", ErrInvalidPayload, addr)
	}
	b := make([]byte, ConnectSize)
	a4 := addr.As4()
	copy(b, a4[:])
	binary.BigEndian.PutUint16(b[4:], ep.Port())
	return b, nil
}

func DecodeEndpoint(p []byte) (netip.AddrPort, error) {
	if len(p) != ConnectSize {
		return netip.AddrPort{}, fmt.Errorf("%w: CONNECT expects %d bytes, got %d", ErrInvalidPayload, ConnectSize, len(p))
	}
	addr := netip.AddrFrom4([4]byte{p[0], p[1], p[2], p[3]})
	return netip.AddrPortFrom(addr, binary.BigEndian.Uint16(p[4:])), nil
}
