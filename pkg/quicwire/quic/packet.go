package quic

import (
	"errors"
	"fmt"
	"io"
)

// QUIC packet headers, draft-ietf-quic-transport-17 Section 17.
//
// Long header packets carry the handshake (Initial, Handshake); short
// header packets carry 1-RTT protected data. Retry and 0-RTT are not
// handled at this revision.

const (
	// ProtocolVersionDraft17 is the only version this endpoint speaks.
	ProtocolVersionDraft17 uint32 = 0xff000011

	PacketLongHeader byte = 0x80
	PacketFixedBit   byte = 0x40
	PacketTypeMask   byte = 0xf0

	PacketTypeInitial   = PacketLongHeader | PacketFixedBit | 0x00
	PacketType0RTT      = PacketLongHeader | PacketFixedBit | 0x10
	PacketTypeHandshake = PacketLongHeader | PacketFixedBit | 0x20
	PacketTypeRetry     = PacketLongHeader | PacketFixedBit | 0x30

	// MaxConnectionIDLen bounds the wire-encoded CID length.
	MaxConnectionIDLen = 20

	// connectionIDLength is the CID size this endpoint generates.
	connectionIDLength = 8
)

var (
	ErrInvalidPacket         = errors.New("quic: invalid packet")
	ErrUnsupportedVersion    = errors.New("quic: unsupported version")
	ErrUnsupportedPacketType = errors.New("quic: unsupported packet type")
	ErrPacketTooSmall        = errors.New("quic: packet too small")
)

// ConnectionID is an endpoint's opaque label for a connection (0-20 bytes).
type ConnectionID []byte

// IsEmpty returns true if the connection ID is empty (0 bytes).
func (c ConnectionID) IsEmpty() bool { return len(c) == 0 }

// Equal returns true if two connection IDs are equal.
func (c ConnectionID) Equal(other ConnectionID) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Len returns the length of the connection ID in bytes.
func (c ConnectionID) Len() int { return len(c) }

// GenerateConnectionID generates a random connection ID of the specified
// length from r.
func GenerateConnectionID(r io.Reader, length int) (ConnectionID, error) {
	if length < 0 || length > MaxConnectionIDLen {
		return nil, fmt.Errorf("quic: invalid connection ID length %d", length)
	}
	cid := make([]byte, length)
	if _, err := io.ReadFull(r, cid); err != nil {
		return nil, err
	}
	return ConnectionID(cid), nil
}

// Header is a parsed long or short header, up to but not including the
// protected packet number. RestLength delimits the remainder of the
// packet (packet number plus AEAD ciphertext).
type Header struct {
	PacketType     byte
	Version        uint32
	DestinationCID ConnectionID
	SourceCID      ConnectionID
	Token          []byte
	RestLength     int
}

// IsLongHeader reports whether the header uses the long form.
func (h Header) IsLongHeader() bool { return h.PacketType&PacketLongHeader != 0 }

// Epoch returns the encryption level the packet type belongs to.
func (h Header) Epoch() Epoch { return packetEpoch(h.PacketType) }

func packetEpoch(packetType byte) Epoch {
	if packetType&PacketLongHeader == 0 {
		return EpochOneRTT
	}
	switch packetType & PacketTypeMask {
	case PacketTypeInitial:
		return EpochInitial
	case PacketTypeHandshake:
		return EpochHandshake
	default:
		return EpochOneRTT
	}
}

// ParseHeader reads one packet header at the cursor. Short headers have
// no length field of their own, so the destination CID length must be
// supplied by the caller (it is the host's own CID length) and the rest
// length runs to the end of the datagram.
func ParseHeader(buf *Buffer, hostCIDLen int) (Header, error) {
	first, err := buf.PullUint8()
	if err != nil {
		return Header{}, ErrPacketTooSmall
	}

	if first&PacketLongHeader == 0 {
		// Short header.
		if first&PacketFixedBit == 0 {
			return Header{}, ErrInvalidPacket
		}
		dcid, err := buf.PullBytes(hostCIDLen)
		if err != nil {
			return Header{}, ErrPacketTooSmall
		}
		return Header{
			PacketType:     first,
			DestinationCID: dcid,
			RestLength:     buf.Capacity() - buf.Tell(),
		}, nil
	}

	version, err := buf.PullUint32()
	if err != nil {
		return Header{}, ErrPacketTooSmall
	}
	if version != ProtocolVersionDraft17 {
		return Header{}, ErrUnsupportedVersion
	}

	dcidLen, err := buf.PullUint8()
	if err != nil {
		return Header{}, ErrPacketTooSmall
	}
	if dcidLen > MaxConnectionIDLen {
		return Header{}, ErrInvalidPacket
	}
	dcid, err := buf.PullBytes(int(dcidLen))
	if err != nil {
		return Header{}, ErrPacketTooSmall
	}

	scidLen, err := buf.PullUint8()
	if err != nil {
		return Header{}, ErrPacketTooSmall
	}
	if scidLen > MaxConnectionIDLen {
		return Header{}, ErrInvalidPacket
	}
	scid, err := buf.PullBytes(int(scidLen))
	if err != nil {
		return Header{}, ErrPacketTooSmall
	}

	h := Header{
		PacketType:     first,
		Version:        version,
		DestinationCID: dcid,
		SourceCID:      scid,
	}

	switch first & PacketTypeMask {
	case PacketTypeInitial:
		tokenLen, err := pullVarint(buf)
		if err != nil {
			return Header{}, ErrPacketTooSmall
		}
		if tokenLen > uint64(buf.Capacity()-buf.Tell()) {
			return Header{}, ErrPacketTooSmall
		}
		h.Token, err = buf.PullBytes(int(tokenLen))
		if err != nil {
			return Header{}, ErrPacketTooSmall
		}
	case PacketTypeHandshake:
		// No token.
	default:
		// Retry and 0-RTT are out of scope.
		return Header{}, ErrUnsupportedPacketType
	}

	length, err := pullVarint(buf)
	if err != nil {
		return Header{}, ErrPacketTooSmall
	}
	if length > uint64(buf.Capacity()-buf.Tell()) {
		return Header{}, ErrPacketTooSmall
	}
	h.RestLength = int(length)

	return h, nil
}

// PushHeader writes a long header at the cursor, ending with a two-byte
// placeholder length field and a two-byte placeholder packet number.
// The caller patches both in place once the payload has been measured.
func PushHeader(buf *Buffer, h Header) error {
	if err := buf.PushUint8(h.PacketType); err != nil {
		return err
	}
	if err := buf.PushUint32(h.Version); err != nil {
		return err
	}
	if err := buf.PushUint8(uint8(len(h.DestinationCID))); err != nil {
		return err
	}
	if err := buf.PushBytes(h.DestinationCID); err != nil {
		return err
	}
	if err := buf.PushUint8(uint8(len(h.SourceCID))); err != nil {
		return err
	}
	if err := buf.PushBytes(h.SourceCID); err != nil {
		return err
	}
	if h.PacketType&PacketTypeMask == PacketTypeInitial {
		if err := pushVarint(buf, uint64(len(h.Token))); err != nil {
			return err
		}
		if err := buf.PushBytes(h.Token); err != nil {
			return err
		}
	}
	// Length and packet number placeholders, patched by the sender.
	if err := buf.PushUint16(0); err != nil {
		return err
	}
	return buf.PushUint16(0)
}
