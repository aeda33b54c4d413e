package quic

import (
	"bytes"
	"testing"
)

func TestGenerateConnectionID(t *testing.T) {
	fixed := bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	cid, err := GenerateConnectionID(fixed, 8)
	if err != nil {
		t.Fatalf("GenerateConnectionID() error = %v", err)
	}
	if !cid.Equal(ConnectionID{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("GenerateConnectionID() = %x", cid)
	}

	if _, err := GenerateConnectionID(fixed, -1); err == nil {
		t.Error("GenerateConnectionID(-1) should fail")
	}
	if _, err := GenerateConnectionID(fixed, 21); err == nil {
		t.Error("GenerateConnectionID(21) should fail")
	}
}

func TestPacketEpoch(t *testing.T) {
	tests := []struct {
		packetType byte
		want       Epoch
	}{
		{PacketTypeInitial, EpochInitial},
		{PacketTypeInitial | 0x01, EpochInitial},
		{PacketTypeHandshake, EpochHandshake},
		{PacketTypeHandshake | 0x01, EpochHandshake},
		{PacketFixedBit | 0x01, EpochOneRTT},
	}

	for _, tt := range tests {
		if got := packetEpoch(tt.packetType); got != tt.want {
			t.Errorf("packetEpoch(%#x) = %v, want %v", tt.packetType, got, tt.want)
		}
	}
}

func TestLongHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		packetType byte
	}{
		{"initial", PacketTypeInitial | 0x01},
		{"handshake", PacketTypeHandshake | 0x01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Header{
				PacketType:     tt.packetType,
				Version:        ProtocolVersionDraft17,
				DestinationCID: ConnectionID{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18},
				SourceCID:      ConnectionID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			}

			buf := NewBuffer(64)
			if err := PushHeader(buf, h); err != nil {
				t.Fatalf("PushHeader() error = %v", err)
			}
			headerSize := buf.Tell()

			// Patch the placeholder length the way the sender does:
			// packet number (2) plus payload (0) plus tag (16).
			_ = buf.Seek(headerSize - 4)
			_ = buf.PushUint16(uint16(2+aeadTagSize) | 0x4000)
			_ = buf.Seek(headerSize)
			// Stand-in for the AEAD tag so the length field is covered.
			_ = buf.PushBytes(make([]byte, aeadTagSize))

			rd := NewBufferFrom(buf.Data())
			got, err := ParseHeader(rd, 8)
			if err != nil {
				t.Fatalf("ParseHeader() error = %v", err)
			}

			if got.PacketType != h.PacketType {
				t.Errorf("PacketType = %#x, want %#x", got.PacketType, h.PacketType)
			}
			if got.Version != h.Version {
				t.Errorf("Version = %#x, want %#x", got.Version, h.Version)
			}
			if !got.DestinationCID.Equal(h.DestinationCID) {
				t.Errorf("DestinationCID = %x, want %x", got.DestinationCID, h.DestinationCID)
			}
			if !got.SourceCID.Equal(h.SourceCID) {
				t.Errorf("SourceCID = %x, want %x", got.SourceCID, h.SourceCID)
			}
			// The parse cursor must sit exactly at the packet number.
			if rd.Tell() != headerSize-2 {
				t.Errorf("cursor = %d, want %d", rd.Tell(), headerSize-2)
			}
		})
	}
}

func TestShortHeaderParse(t *testing.T) {
	dcid := ConnectionID{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11}

	buf := NewBuffer(64)
	_ = buf.PushUint8(PacketFixedBit | 0x01)
	_ = buf.PushBytes(dcid)
	_ = buf.PushUint16(7)           // packet number
	_ = buf.PushBytes([]byte{1, 2}) // opaque payload

	rd := NewBufferFrom(buf.Data())
	h, err := ParseHeader(rd, len(dcid))
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}

	if h.IsLongHeader() {
		t.Error("IsLongHeader() = true for short header")
	}
	if !h.DestinationCID.Equal(dcid) {
		t.Errorf("DestinationCID = %x, want %x", h.DestinationCID, dcid)
	}
	// Short headers run to the end of the datagram: packet number plus
	// payload.
	if h.RestLength != 4 {
		t.Errorf("RestLength = %d, want 4", h.RestLength)
	}
}

func TestParseHeaderRejects(t *testing.T) {
	longPrefix := func(packetType byte) []byte {
		buf := NewBuffer(64)
		_ = buf.PushUint8(packetType)
		_ = buf.PushUint32(ProtocolVersionDraft17)
		_ = buf.PushUint8(0) // dcid len
		_ = buf.PushUint8(0) // scid len
		return buf.Data()
	}

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"empty", nil, ErrPacketTooSmall},
		{"short header without fixed bit", []byte{0x00, 1, 2, 3, 4, 5, 6, 7, 8, 0, 0}, ErrInvalidPacket},
		{"unknown version", []byte{0xc3, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, ErrUnsupportedVersion},
		{"retry", longPrefix(PacketTypeRetry), ErrUnsupportedPacketType},
		{"0rtt", longPrefix(PacketType0RTT), ErrUnsupportedPacketType},
		{"truncated long header", []byte{0xc3, 0xff, 0x00, 0x00}, ErrPacketTooSmall},
		{"cid too long", []byte{0xc3, 0xff, 0x00, 0x00, 0x11, 0x15}, ErrInvalidPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rd := NewBufferFrom(tt.input)
			if _, err := ParseHeader(rd, 8); err != tt.want {
				t.Errorf("ParseHeader() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseHeaderLengthOverrun(t *testing.T) {
	// A long header whose length field claims more bytes than the
	// datagram holds must be rejected.
	buf := NewBuffer(64)
	_ = buf.PushUint8(PacketTypeInitial | 0x01)
	_ = buf.PushUint32(ProtocolVersionDraft17)
	_ = buf.PushUint8(0)
	_ = buf.PushUint8(0)
	_ = pushVarint(buf, 0)    // token length
	_ = pushVarint(buf, 1000) // rest length, but nothing follows

	rd := NewBufferFrom(buf.Data())
	if _, err := ParseHeader(rd, 8); err != ErrPacketTooSmall {
		t.Errorf("ParseHeader() error = %v, want %v", err, ErrPacketTooSmall)
	}
}
