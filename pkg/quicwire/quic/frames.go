package quic

import "errors"

// QUIC frame codec, draft-ietf-quic-transport-17 Section 19 — the
// subset the connection layer needs: PADDING, PING, ACK, CRYPTO and
// NEW_CONNECTION_ID. The frame type itself is a varint pushed or pulled
// by the caller; the helpers below handle frame bodies.

type FrameType uint64

const (
	FrameTypePadding         FrameType = 0x00
	FrameTypePing            FrameType = 0x01
	FrameTypeAck             FrameType = 0x02
	FrameTypeCrypto          FrameType = 0x06
	FrameTypeNewConnectionID FrameType = 0x18
)

var ErrMalformedFrame = errors.New("quic: malformed frame")

// pushAckFrame writes an ACK frame body from the received-range set.
// Ranges are emitted largest-first: the largest acknowledged is the top
// range's upper bound minus one, the first range field is that range's
// length minus one, and each following (gap, length) pair walks
// downward through the set.
func pushAckFrame(buf *Buffer, rs *RangeSet, delay uint64) error {
	index := rs.Len() - 1
	r := rs.Range(index)
	if err := pushVarint(buf, r.Stop-1); err != nil {
		return err
	}
	if err := pushVarint(buf, delay); err != nil {
		return err
	}
	if err := pushVarint(buf, uint64(index)); err != nil {
		return err
	}
	if err := pushVarint(buf, r.Stop-1-r.Start); err != nil {
		return err
	}
	start := r.Start
	for index > 0 {
		index--
		r = rs.Range(index)
		if err := pushVarint(buf, start-r.Stop-1); err != nil {
			return err
		}
		if err := pushVarint(buf, r.Stop-r.Start-1); err != nil {
			return err
		}
		start = r.Start
	}
	return nil
}

// pullAckFrame reads an ACK frame body and reconstructs the
// acknowledged set together with the encoded ack delay.
func pullAckFrame(buf *Buffer) (*RangeSet, uint64, error) {
	largest, err := pullVarint(buf)
	if err != nil {
		return nil, 0, ErrMalformedFrame
	}
	delay, err := pullVarint(buf)
	if err != nil {
		return nil, 0, ErrMalformedFrame
	}
	rangeCount, err := pullVarint(buf)
	if err != nil {
		return nil, 0, ErrMalformedFrame
	}
	first, err := pullVarint(buf)
	if err != nil {
		return nil, 0, ErrMalformedFrame
	}
	if first > largest {
		return nil, 0, ErrMalformedFrame
	}

	rs := &RangeSet{}
	start := largest - first
	rs.ranges = append(rs.ranges, PacketRange{Start: start, Stop: largest + 1})

	for i := uint64(0); i < rangeCount; i++ {
		gap, err := pullVarint(buf)
		if err != nil {
			return nil, 0, ErrMalformedFrame
		}
		length, err := pullVarint(buf)
		if err != nil {
			return nil, 0, ErrMalformedFrame
		}
		if gap+1 > start {
			return nil, 0, ErrMalformedFrame
		}
		stop := start - gap - 1
		if length+1 > stop {
			return nil, 0, ErrMalformedFrame
		}
		start = stop - length - 1
		rs.ranges = append([]PacketRange{{Start: start, Stop: stop}}, rs.ranges...)
	}
	return rs, delay, nil
}

// pullCryptoFrame reads a CRYPTO frame body and returns the handshake
// byte offset and data.
func pullCryptoFrame(buf *Buffer) (uint64, []byte, error) {
	offset, err := pullVarint(buf)
	if err != nil {
		return 0, nil, ErrMalformedFrame
	}
	length, err := pullVarint(buf)
	if err != nil {
		return 0, nil, ErrMalformedFrame
	}
	if length > uint64(buf.Capacity()-buf.Tell()) {
		return 0, nil, ErrMalformedFrame
	}
	data, err := buf.PullBytes(int(length))
	if err != nil {
		return 0, nil, ErrMalformedFrame
	}
	return offset, data, nil
}

// pullNewConnectionIDFrame reads and discards a NEW_CONNECTION_ID frame
// body: sequence number, CID, and stateless reset token.
func pullNewConnectionIDFrame(buf *Buffer) error {
	if _, err := pullVarint(buf); err != nil {
		return ErrMalformedFrame
	}
	cidLen, err := buf.PullUint8()
	if err != nil {
		return ErrMalformedFrame
	}
	if cidLen > MaxConnectionIDLen {
		return ErrMalformedFrame
	}
	if _, err := buf.PullBytes(int(cidLen)); err != nil {
		return ErrMalformedFrame
	}
	if _, err := buf.PullBytes(16); err != nil {
		return ErrMalformedFrame
	}
	return nil
}
