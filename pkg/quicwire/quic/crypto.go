package quic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// QUIC packet protection, draft-ietf-quic-tls-17: AEAD protection of the
// packet payload with the header as associated data, plus a header
// protection mask derived from a sample of the ciphertext.

// Draft-17 initial salt.
var initialSalt = []byte{
	0xef, 0x4f, 0xb0, 0xab, 0xb4, 0x74, 0x70, 0xc4,
	0x1b, 0xef, 0xcf, 0x80, 0x31, 0x33, 0x4f, 0xae,
	0x48, 0x5e, 0x09, 0xa0,
}

// TLS 1.3 cipher suites
const (
	TLS_AES_128_GCM_SHA256       uint16 = 0x1301
	TLS_AES_256_GCM_SHA384       uint16 = 0x1302
	TLS_CHACHA20_POLY1305_SHA256 uint16 = 0x1303
)

const (
	aeadTagSize                = 16
	headerProtectionSampleSize = 16
	aeadNonceSize              = 12
)

var (
	ErrDecryptionFailed = errors.New("quic: decryption failed")
	ErrKeysNotAvailable = errors.New("quic: keys not available")
)

func suiteHash(suite uint16) (func() hash.Hash, error) {
	switch suite {
	case TLS_AES_128_GCM_SHA256, TLS_CHACHA20_POLY1305_SHA256:
		return sha256.New, nil
	case TLS_AES_256_GCM_SHA384:
		return sha512.New384, nil
	default:
		return nil, fmt.Errorf("quic: unsupported cipher suite 0x%04x", suite)
	}
}

// hkdfExpandLabel implements HKDF-Expand-Label from TLS 1.3
// (RFC 8446 Section 7.1).
func hkdfExpandLabel(hashFunc func() hash.Hash, secret []byte, label string, context []byte, length int) []byte {
	fullLabel := "tls13 " + label
	hkdfLabel := make([]byte, 2+1+len(fullLabel)+1+len(context))

	hkdfLabel[0] = byte(length >> 8)
	hkdfLabel[1] = byte(length)
	hkdfLabel[2] = byte(len(fullLabel))
	copy(hkdfLabel[3:], fullLabel)

	offset := 3 + len(fullLabel)
	hkdfLabel[offset] = byte(len(context))
	copy(hkdfLabel[offset+1:], context)

	out := make([]byte, length)
	r := hkdf.Expand(hashFunc, secret, hkdfLabel)
	if _, err := r.Read(out); err != nil {
		panic(err) // HKDF-Expand cannot fail for length < 255*hashLen
	}
	return out
}

// CryptoContext holds one direction's packet protection state: the AEAD
// key and IV plus the header protection key. A context is invalid until
// Setup installs a secret and reverts to invalid on Teardown.
type CryptoContext struct {
	suite   uint16
	aead    cipher.AEAD
	iv      []byte
	hpKey   []byte
	hpBlock cipher.Block // AES suites only
}

// Setup derives and installs the AEAD key, IV and header protection key
// for a traffic secret.
func (c *CryptoContext) Setup(suite uint16, secret []byte) error {
	var keyLen int
	switch suite {
	case TLS_AES_128_GCM_SHA256:
		keyLen = 16
	case TLS_AES_256_GCM_SHA384, TLS_CHACHA20_POLY1305_SHA256:
		keyLen = 32
	default:
		return fmt.Errorf("quic: unsupported cipher suite 0x%04x", suite)
	}
	hashFunc, err := suiteHash(suite)
	if err != nil {
		return err
	}

	key := hkdfExpandLabel(hashFunc, secret, "quic key", nil, keyLen)
	iv := hkdfExpandLabel(hashFunc, secret, "quic iv", nil, aeadNonceSize)
	hp := hkdfExpandLabel(hashFunc, secret, "quic hp", nil, keyLen)

	var aead cipher.AEAD
	var hpBlock cipher.Block
	switch suite {
	case TLS_AES_128_GCM_SHA256, TLS_AES_256_GCM_SHA384:
		block, err := aes.NewCipher(key)
		if err != nil {
			return err
		}
		aead, err = cipher.NewGCM(block)
		if err != nil {
			return err
		}
		hpBlock, err = aes.NewCipher(hp)
		if err != nil {
			return err
		}
	case TLS_CHACHA20_POLY1305_SHA256:
		aead, err = chacha20poly1305.New(key)
		if err != nil {
			return err
		}
	}

	c.suite = suite
	c.aead = aead
	c.iv = iv
	c.hpKey = hp
	c.hpBlock = hpBlock
	return nil
}

// Teardown zeroizes the keys and invalidates the context.
func (c *CryptoContext) Teardown() {
	for i := range c.iv {
		c.iv[i] = 0
	}
	for i := range c.hpKey {
		c.hpKey[i] = 0
	}
	*c = CryptoContext{}
}

// IsValid reports whether keys are installed.
func (c *CryptoContext) IsValid() bool { return c.aead != nil }

// AEADTagSize returns the authentication tag length.
func (c *CryptoContext) AEADTagSize() int { return aeadTagSize }

// headerProtectionMask derives the 5-byte mask from a ciphertext sample.
func (c *CryptoContext) headerProtectionMask(sample []byte) ([]byte, error) {
	switch c.suite {
	case TLS_AES_128_GCM_SHA256, TLS_AES_256_GCM_SHA384:
		mask := make([]byte, aes.BlockSize)
		c.hpBlock.Encrypt(mask, sample)
		return mask[:5], nil
	case TLS_CHACHA20_POLY1305_SHA256:
		counter := binary.LittleEndian.Uint32(sample[0:4])
		stream, err := chacha20.NewUnauthenticatedCipher(c.hpKey, sample[4:16])
		if err != nil {
			return nil, err
		}
		stream.SetCounter(counter)
		mask := make([]byte, 5)
		stream.XORKeyStream(mask, mask)
		return mask, nil
	default:
		return nil, ErrKeysNotAvailable
	}
}

// nonce XORs the packet number into the low-order bytes of the IV.
func (c *CryptoContext) nonce(pn uint64) []byte {
	nonce := make([]byte, len(c.iv))
	copy(nonce, c.iv)
	for i := len(nonce) - 1; i >= len(nonce)-8; i-- {
		nonce[i] ^= byte(pn)
		pn >>= 8
	}
	return nonce
}

// EncryptPacket seals the payload with the header as associated data and
// applies header protection. The packet number is carried in the trailing
// bytes of the plaintext header, as written by the sender.
func (c *CryptoContext) EncryptPacket(plainHeader, plainPayload []byte) ([]byte, error) {
	if !c.IsValid() {
		return nil, ErrKeysNotAvailable
	}

	pnLen := int(plainHeader[0]&0x03) + 1
	pnOffset := len(plainHeader) - pnLen
	pn := uint64(0)
	for _, b := range plainHeader[pnOffset:] {
		pn = pn<<8 | uint64(b)
	}

	out := make([]byte, 0, len(plainHeader)+len(plainPayload)+aeadTagSize)
	out = append(out, plainHeader...)
	out = c.aead.Seal(out, c.nonce(pn), plainPayload, plainHeader)

	// Header protection: sample 16 ciphertext bytes starting four bytes
	// after the start of the packet number field.
	sampleOffset := pnOffset + 4
	if sampleOffset+headerProtectionSampleSize > len(out) {
		return nil, ErrPacketTooSmall
	}
	mask, err := c.headerProtectionMask(out[sampleOffset : sampleOffset+headerProtectionSampleSize])
	if err != nil {
		return nil, err
	}
	if out[0]&PacketLongHeader != 0 {
		out[0] ^= mask[0] & 0x0f
	} else {
		out[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLen; i++ {
		out[pnOffset+i] ^= mask[1+i]
	}
	return out, nil
}

// DecryptPacket reverses header protection and opens the AEAD. It
// returns the plaintext header, plaintext payload and the packet number.
// The wire packet number is used directly; reconstruction against the
// largest acknowledged number is not performed at this revision.
func (c *CryptoContext) DecryptPacket(packet []byte, pnOffset int) ([]byte, []byte, uint64, error) {
	if !c.IsValid() {
		return nil, nil, 0, ErrKeysNotAvailable
	}

	sampleOffset := pnOffset + 4
	if sampleOffset+headerProtectionSampleSize > len(packet) {
		return nil, nil, 0, ErrPacketTooSmall
	}
	mask, err := c.headerProtectionMask(packet[sampleOffset : sampleOffset+headerProtectionSampleSize])
	if err != nil {
		return nil, nil, 0, err
	}

	work := make([]byte, len(packet))
	copy(work, packet)

	if work[0]&PacketLongHeader != 0 {
		work[0] ^= mask[0] & 0x0f
	} else {
		work[0] ^= mask[0] & 0x1f
	}
	pnLen := int(work[0]&0x03) + 1
	if pnOffset+pnLen > len(work) {
		return nil, nil, 0, ErrPacketTooSmall
	}
	pn := uint64(0)
	for i := 0; i < pnLen; i++ {
		work[pnOffset+i] ^= mask[1+i]
		pn = pn<<8 | uint64(work[pnOffset+i])
	}

	plainHeader := work[:pnOffset+pnLen]
	plainPayload, err := c.aead.Open(nil, c.nonce(pn), work[pnOffset+pnLen:], plainHeader)
	if err != nil {
		return nil, nil, 0, ErrDecryptionFailed
	}
	return plainHeader, plainPayload, pn, nil
}

// CryptoPair is the send and receive protection state for one epoch.
type CryptoPair struct {
	Send CryptoContext
	Recv CryptoContext
}

// SetupInitial derives the Initial secrets from the destination CID and
// the draft-17 salt and installs them according to role. Initial packets
// are always protected with AES-128-GCM.
func (p *CryptoPair) SetupInitial(cid ConnectionID, isClient bool) error {
	initialSecret := hkdf.Extract(sha256.New, cid, initialSalt)
	clientSecret := hkdfExpandLabel(sha256.New, initialSecret, "client in", nil, sha256.Size)
	serverSecret := hkdfExpandLabel(sha256.New, initialSecret, "server in", nil, sha256.Size)

	sendSecret, recvSecret := serverSecret, clientSecret
	if isClient {
		sendSecret, recvSecret = clientSecret, serverSecret
	}
	if err := p.Send.Setup(TLS_AES_128_GCM_SHA256, sendSecret); err != nil {
		return err
	}
	return p.Recv.Setup(TLS_AES_128_GCM_SHA256, recvSecret)
}

// Teardown invalidates both directions.
func (p *CryptoPair) Teardown() {
	p.Send.Teardown()
	p.Recv.Teardown()
}
