package quic

import (
	"crypto/rand"
	"crypto/tls"
	"errors"
	"io"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Connection is the connection-layer state machine of a QUIC endpoint:
// it ingests UDP datagrams, decrypts and parses packets, routes CRYPTO
// frames into the TLS engine, tracks per-epoch packet-number spaces and
// ACK ranges, and produces outbound datagrams. It is a passive object
// driven by an external I/O loop; no operation blocks and no internal
// locks are taken.

const (
	maxDatagramSize = 1280
	sendPNSize      = 2

	sendBufferCapacity = 4096
)

var (
	ErrNoEngine      = errors.New("quic: a TLS engine is required")
	ErrNoCertificate = errors.New("quic: server connection requires a certificate")
)

// Config carries the construction parameters of a connection.
type Config struct {
	IsClient bool

	// Engine is the external TLS 1.3 state machine. Required.
	Engine Engine

	// Certificate is the server credential. Required for servers:
	// construction fails without a certificate chain. The private key
	// is not checked.
	Certificate tls.Certificate

	// Rand is the source for connection ID generation. Defaults to
	// crypto/rand.
	Rand io.Reader

	// Logger is the base log entry. Defaults to the standard logger.
	Logger *logrus.Entry
}

// epochSpace is the per-epoch state: one crypto pair, one set of
// received packet numbers, and the next packet number to send. The
// three spaces are created together and indexed by Epoch.
type epochSpace struct {
	crypto     CryptoPair
	recvRanges RangeSet
	nextPN     uint64
}

// DatagramSink accepts one complete outbound UDP datagram.
type DatagramSink func(datagram []byte)

type Connection struct {
	isClient bool
	engine   Engine
	log      *logrus.Entry

	hostCID    ConnectionID
	peerCID    ConnectionID
	peerCIDSet bool

	spaces [epochCount]epochSpace

	// sendBuffer is the TLS engine's outbound byte buffer. Bytes written
	// before the Handshake send keys install belong to the Initial
	// epoch; hsBoundary marks the split (-1 until the keys install).
	sendBuffer *Buffer
	hsBoundary int

	sendAck           bool
	cryptoInitialized bool
}

// NewConnection constructs a connection in the given role. The TLS
// engine is handed the role-specific transport parameters, the server
// credential, and the connection itself as its traffic-key sink.
func NewConnection(cfg Config) (*Connection, error) {
	if cfg.Engine == nil {
		return nil, ErrNoEngine
	}
	if !cfg.IsClient && len(cfg.Certificate.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Reader
	}

	hostCID, err := GenerateConnectionID(rnd, connectionIDLength)
	if err != nil {
		return nil, err
	}
	// Provisional until the first packet from the peer latches its
	// source CID.
	peerCID, err := GenerateConnectionID(rnd, connectionIDLength)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	role := "server"
	if cfg.IsClient {
		role = "client"
	}

	c := &Connection{
		isClient:   cfg.IsClient,
		engine:     cfg.Engine,
		log:        logger.WithFields(logrus.Fields{"conn": xid.New().String(), "role": role}),
		hostCID:    hostCID,
		peerCID:    peerCID,
		sendBuffer: NewBuffer(sendBufferCapacity),
		hsBoundary: -1,
	}

	if cfg.IsClient {
		c.engine.AddHandshakeExtension(ExtensionTypeQUICTransportParameters, clientTransportParameters)
	} else {
		c.engine.AddHandshakeExtension(ExtensionTypeQUICTransportParameters, serverTransportParameters)
		c.engine.SetCertificate(cfg.Certificate)
	}
	c.engine.SetTrafficKeySink(c)

	return c, nil
}

// HostCID returns the connection ID this endpoint chose for itself.
func (c *Connection) HostCID() ConnectionID { return c.hostCID }

// PeerCID returns the connection ID packets are addressed to.
func (c *Connection) PeerCID() ConnectionID { return c.peerCID }

// ConnectionMade starts a client handshake: Initial keys are derived
// from the provisional peer CID and the TLS engine is prodded with an
// empty input, which makes it write its first flight into the outbound
// buffer.
func (c *Connection) ConnectionMade() error {
	if !c.isClient {
		return nil
	}
	if err := c.spaces[EpochInitial].crypto.SetupInitial(c.peerCID, true); err != nil {
		return err
	}
	c.cryptoInitialized = true
	return c.engine.HandleMessage(nil, c.sendBuffer)
}

// InstallTrafficKey implements TrafficKeySink. Invoked by the TLS engine
// as the key schedule advances. Installing the Handshake send keys also
// marks the epoch boundary inside the outbound buffer: bytes already
// written drain at the Initial epoch, later bytes at Handshake.
func (c *Connection) InstallTrafficKey(direction Direction, epoch Epoch, secret []byte) error {
	if epoch >= epochCount {
		return ErrKeysNotAvailable
	}
	space := &c.spaces[epoch]
	suite := c.engine.Algorithm()
	if direction == DirectionEncrypt {
		if epoch == EpochHandshake && c.hsBoundary < 0 {
			c.hsBoundary = c.sendBuffer.Tell()
		}
		c.log.WithField("epoch", epoch.String()).Debug("send keys installed")
		return space.crypto.Send.Setup(suite, secret)
	}
	c.log.WithField("epoch", epoch.String()).Debug("receive keys installed")
	return space.crypto.Recv.Setup(suite, secret)
}

// DatagramReceived processes one UDP datagram, which may contain
// several coalesced packets. Malformed or undecryptable packets are
// abandoned along with the rest of the datagram; only TLS engine faults
// are returned.
func (c *Connection) DatagramReceived(data []byte) error {
	buf := NewBufferFrom(data)

	for !buf.Eof() {
		startOff := buf.Tell()
		header, err := ParseHeader(buf, len(c.hostCID))
		if err != nil {
			c.log.WithError(err).Warn("abandoning packet: bad header")
			packetsDropped.WithLabelValues(dropReasonHeader).Inc()
			return nil
		}
		pnOffset := buf.Tell() - startOff
		endOff := buf.Tell() + header.RestLength
		if _, err := buf.PullBytes(header.RestLength); err != nil {
			c.log.WithError(err).Warn("abandoning packet: truncated")
			packetsDropped.WithLabelValues(dropReasonHeader).Inc()
			return nil
		}

		// A server derives Initial keys lazily from the client's chosen
		// destination CID.
		if !c.isClient && !c.cryptoInitialized {
			if err := c.spaces[EpochInitial].crypto.SetupInitial(header.DestinationCID, false); err != nil {
				return err
			}
			c.cryptoInitialized = true
		}

		epoch := header.Epoch()
		space := &c.spaces[epoch]
		if !space.crypto.Recv.IsValid() {
			c.log.WithField("epoch", epoch.String()).Warn("abandoning packet: no receive keys")
			packetsDropped.WithLabelValues(dropReasonKeys).Inc()
			return nil
		}

		_, plainPayload, pn, err := space.crypto.Recv.DecryptPacket(data[startOff:endOff], pnOffset)
		if err != nil {
			c.log.WithError(err).WithField("epoch", epoch.String()).Warn("abandoning packet")
			packetsDropped.WithLabelValues(dropReasonDecrypt).Inc()
			return nil
		}
		packetsReceived.WithLabelValues(epoch.String()).Inc()

		// The peer CID latches to the first decrypted packet's source
		// CID and is immutable afterwards.
		if !c.peerCIDSet {
			c.peerCID = header.SourceCID
			c.peerCIDSet = true
		}

		isAckOnly, err := c.payloadReceived(plainPayload)
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				c.log.WithError(err).Warn("abandoning packet: bad payload")
				packetsDropped.WithLabelValues(dropReasonFrame).Inc()
				return nil
			}
			return err
		}

		space.recvRanges.Add(pn)
		if !isAckOnly {
			c.sendAck = true
		}
	}
	return nil
}

// payloadReceived walks the frames of a decrypted payload. It reports
// whether the packet carried only PADDING and ACK frames. An unknown
// frame type terminates processing for the packet but keeps it; a
// malformed frame abandons it.
func (c *Connection) payloadReceived(plain []byte) (bool, error) {
	buf := NewBufferFrom(plain)

	isAckOnly := true
	for !buf.Eof() {
		frameType, err := pullVarint(buf)
		if err != nil {
			return isAckOnly, ErrMalformedFrame
		}
		switch FrameType(frameType) {
		case FrameTypePadding:
			// Preserves ack-only.
		case FrameTypePing:
			isAckOnly = false
		case FrameTypeAck:
			if _, _, err := pullAckFrame(buf); err != nil {
				return isAckOnly, err
			}
			// No loss recovery at this revision; the frame is discarded.
		case FrameTypeCrypto:
			isAckOnly = false
			offset, data, err := pullCryptoFrame(buf)
			if err != nil {
				return isAckOnly, err
			}
			if offset != 0 || len(data) == 0 {
				// Only contiguous handshake bytes at offset zero are
				// handled.
				return isAckOnly, ErrMalformedFrame
			}
			if err := c.engine.HandleMessage(data, c.sendBuffer); err != nil {
				return isAckOnly, err
			}
		case FrameTypeNewConnectionID:
			isAckOnly = false
			if err := pullNewConnectionIDFrame(buf); err != nil {
				return isAckOnly, err
			}
		default:
			c.log.WithField("frame_type", frameType).Warn("unhandled frame type")
			framesUnhandled.Inc()
			return isAckOnly, nil
		}
	}
	return isAckOnly, nil
}

// Drain produces the pending outbound datagrams in canonical order:
// Initial, then Handshake, then 1-RTT. At most one packet per epoch is
// produced per invocation.
func (c *Connection) Drain(sink DatagramSink) {
	c.writeHandshake(EpochInitial, sink)
	c.writeHandshake(EpochHandshake, sink)
	c.writeApplication(sink)
}

// PendingDatagrams drains into a slice.
func (c *Connection) PendingDatagrams() [][]byte {
	var out [][]byte
	c.Drain(func(datagram []byte) { out = append(out, datagram) })
	return out
}

// pendingCrypto returns how many outbound TLS bytes belong to the epoch.
func (c *Connection) pendingCrypto(epoch Epoch) int {
	switch epoch {
	case EpochInitial:
		if c.hsBoundary >= 0 {
			return c.hsBoundary
		}
		return c.sendBuffer.Tell()
	case EpochHandshake:
		if c.hsBoundary >= 0 {
			return c.sendBuffer.Tell() - c.hsBoundary
		}
		return 0
	default:
		return 0
	}
}

// drainCrypto removes n bytes from the front of the outbound buffer.
func (c *Connection) drainCrypto(n int) []byte {
	data := c.sendBuffer.Data()
	out := make([]byte, n)
	copy(out, data[:n])

	rest := data[n:]
	_ = c.sendBuffer.Seek(0)
	_ = c.sendBuffer.PushBytes(rest)
	if c.hsBoundary > 0 {
		c.hsBoundary -= n
	}
	return out
}

// writeHandshake emits one long-header packet at the given epoch,
// carrying the epoch's pending TLS bytes in a CRYPTO frame plus, when
// due, an ACK frame. Initial packets are padded so that the encrypted
// datagram is 1280 bytes before any ACK frame; an ACK frame, when due,
// is appended after the padding and enlarges the datagram by its own
// size. Once a Handshake packet has been emitted the Initial keys are
// discarded.
func (c *Connection) writeHandshake(epoch Epoch, sink DatagramSink) {
	space := &c.spaces[epoch]
	pending := c.pendingCrypto(epoch)
	if !space.crypto.Send.IsValid() || pending == 0 {
		return
	}

	packetType := byte(PacketTypeInitial)
	if epoch == EpochHandshake {
		packetType = PacketTypeHandshake
	}

	buf := NewBuffer(maxDatagramSize)
	if err := PushHeader(buf, Header{
		PacketType:     packetType | (sendPNSize - 1),
		Version:        ProtocolVersionDraft17,
		DestinationCID: c.peerCID,
		SourceCID:      c.hostCID,
	}); err != nil {
		c.log.WithError(err).Error("packet assembly failed")
		return
	}
	headerSize := buf.Tell()

	err := func() error {
		// CRYPTO
		if err := pushVarint(buf, uint64(FrameTypeCrypto)); err != nil {
			return err
		}
		if err := pushVarint(buf, 0); err != nil {
			return err
		}
		scope, err := buf.BeginLengthPrefixed()
		if err != nil {
			return err
		}
		if err := buf.PushBytes(c.drainCrypto(pending)); err != nil {
			return err
		}
		if err := scope.End(); err != nil {
			return err
		}

		// PADDING: the encrypted Initial must fill the datagram.
		if epoch == EpochInitial {
			if pad := maxDatagramSize - space.crypto.Send.AEADTagSize() - buf.Tell(); pad > 0 {
				if err := buf.PushBytes(make([]byte, pad)); err != nil {
					return err
				}
			}
		}

		// ACK
		if c.sendAck && !space.recvRanges.IsEmpty() {
			if err := pushVarint(buf, uint64(FrameTypeAck)); err != nil {
				return err
			}
			if err := pushAckFrame(buf, &space.recvRanges, 0); err != nil {
				return err
			}
			c.sendAck = false
		}

		// Patch the length field (payload + packet number + AEAD tag,
		// two-byte varint class) and the packet number.
		packetSize := buf.Tell()
		if err := buf.Seek(headerSize - sendPNSize - 2); err != nil {
			return err
		}
		length := packetSize - headerSize + sendPNSize + space.crypto.Send.AEADTagSize()
		if err := buf.PushUint16(uint16(length) | 0x4000); err != nil {
			return err
		}
		if err := buf.PushUint16(uint16(space.nextPN)); err != nil {
			return err
		}
		return buf.Seek(packetSize)
	}()
	if err != nil {
		c.log.WithError(err).Error("packet assembly failed")
		return
	}

	data := buf.Data()
	datagram, err := space.crypto.Send.EncryptPacket(data[:headerSize], data[headerSize:])
	if err != nil {
		c.log.WithError(err).Error("packet protection failed")
		return
	}
	sink(datagram)
	space.nextPN++
	packetsSent.WithLabelValues(epoch.String()).Inc()

	if epoch == EpochHandshake && c.spaces[EpochInitial].crypto.Send.IsValid() {
		c.spaces[EpochInitial].crypto.Teardown()
		c.log.Debug("initial keys discarded")
	}
}

// writeApplication emits one short-header 1-RTT packet. Without streams
// the only payload is an ACK frame, so emission is skipped unless one
// is due.
func (c *Connection) writeApplication(sink DatagramSink) {
	space := &c.spaces[EpochOneRTT]
	if !space.crypto.Send.IsValid() || space.recvRanges.IsEmpty() || !c.sendAck {
		return
	}

	buf := NewBuffer(maxDatagramSize)
	err := func() error {
		if err := buf.PushUint8(PacketFixedBit | (sendPNSize - 1)); err != nil {
			return err
		}
		if err := buf.PushBytes(c.peerCID); err != nil {
			return err
		}
		if err := buf.PushUint16(uint16(space.nextPN)); err != nil {
			return err
		}
		return nil
	}()
	if err != nil {
		c.log.WithError(err).Error("packet assembly failed")
		return
	}
	headerSize := buf.Tell()

	err = func() error {
		if err := pushVarint(buf, uint64(FrameTypeAck)); err != nil {
			return err
		}
		if err := pushAckFrame(buf, &space.recvRanges, 0); err != nil {
			return err
		}
		c.sendAck = false
		return nil
	}()
	if err != nil {
		c.log.WithError(err).Error("packet assembly failed")
		return
	}

	data := buf.Data()
	datagram, err := space.crypto.Send.EncryptPacket(data[:headerSize], data[headerSize:])
	if err != nil {
		c.log.WithError(err).Error("packet protection failed")
		return
	}
	sink(datagram)
	space.nextPN++
	packetsSent.WithLabelValues(EpochOneRTT.String()).Inc()
}
