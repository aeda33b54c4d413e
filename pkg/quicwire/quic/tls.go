package quic

import (
	"crypto/tls"
	"encoding/hex"
	"fmt"
)

// Contract with the external TLS 1.3 engine. The engine is a black box
// that consumes handshake bytes carried in CRYPTO frames, appends its
// response bytes to the connection's outbound buffer, and installs
// traffic secrets through the TrafficKeySink it is handed at
// construction. The connection owns the sink; the engine borrows it for
// the duration of the handshake.

// Epoch is an encryption level. Every per-level structure of the
// connection (crypto pair, received-range set, send packet number) is
// indexed by it.
type Epoch uint8

const (
	EpochInitial Epoch = iota
	EpochHandshake
	EpochOneRTT

	epochCount
)

func (e Epoch) String() string {
	switch e {
	case EpochInitial:
		return "initial"
	case EpochHandshake:
		return "handshake"
	case EpochOneRTT:
		return "1rtt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// Direction distinguishes the two halves of a crypto pair.
type Direction uint8

const (
	DirectionEncrypt Direction = iota
	DirectionDecrypt
)

// ExtensionTypeQUICTransportParameters is the TLS extension carrying the
// QUIC transport parameters during the handshake.
const ExtensionTypeQUICTransportParameters uint16 = 0xffa5

// TrafficKeySink receives traffic secrets from the TLS engine as the key
// schedule advances. Implemented by Connection.
type TrafficKeySink interface {
	InstallTrafficKey(direction Direction, epoch Epoch, secret []byte) error
}

// Engine is the interface the connection requires of the TLS 1.3 state
// machine.
type Engine interface {
	// HandleMessage synchronously consumes handshake bytes and appends
	// any response bytes to out. It may invoke the traffic-key sink zero
	// or more times before returning. An empty input starts a client
	// handshake.
	HandleMessage(input []byte, out *Buffer) error

	// AddHandshakeExtension injects an extension into the engine's
	// handshake messages.
	AddHandshakeExtension(extensionType uint16, data []byte)

	// SetCertificate installs the server credential.
	SetCertificate(cert tls.Certificate)

	// SetTrafficKeySink registers the sink for traffic-secret updates.
	SetTrafficKeySink(sink TrafficKeySink)

	// Algorithm returns the cipher suite negotiated by the key schedule.
	Algorithm() uint16
}

// Transport parameters are exchanged as opaque blobs at this revision.
// A transport-parameter codec would produce these; the injection point
// is the handshake extension above.
var (
	clientTransportParameters = mustHexDecode(
		"ff0000110031000500048010000000060004801000000007000480100000000" +
			"4000481000000000100024258000800024064000a00010a")
	serverTransportParameters = mustHexDecode(
		"ff00001104ff000011004500050004801000000006000480100000000700048" +
			"010000000040004810000000001000242580002001000000000000000000000" +
			"000000000000000800024064000a00010a")
)

func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
