// Package dare implements the DARE-style authenticated encryption stream
// format used to store objects confidentially: plaintext is split into
// fixed-size frames, each one independently AEAD-encrypted and
// authenticated, so a stream can be decrypted incrementally and a plaintext
// byte range can be served by fetching only the covering frames.
package dare

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Version is the wire format version carried in every frame header.
	Version = 0x10

	// HeaderSize is the size of the fixed frame header in bytes.
	HeaderSize = 16

	// TagSize is the size of the AEAD authentication tag in bytes.
	TagSize = 16

	// MaxPayloadSize is the maximum plaintext payload per frame. Every
	// frame except possibly the last carries exactly this many bytes.
	MaxPayloadSize = 64 * 1024

	// MaxFrameSize is the size of a full frame on the wire.
	MaxFrameSize = HeaderSize + MaxPayloadSize + TagSize

	// FrameOverhead is the fixed per-frame overhead added by the format.
	FrameOverhead = HeaderSize + TagSize

	nonceSize     = 12
	baseNonceSize = 8
)

// CipherSuite identifies the AEAD used for a stream.
type CipherSuite byte

const (
	// AES256GCM is the default cipher suite.
	AES256GCM CipherSuite = 0x00
	// ChaCha20Poly1305 is the alternative suite for hosts without AES
	// hardware support.
	ChaCha20Poly1305 CipherSuite = 0x01
)

func (c CipherSuite) String() string {
	switch c {
	case AES256GCM:
		return "AES256-GCM"
	case ChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(c))
	}
}

var (
	// ErrMalformedHeader reports a frame header that cannot be parsed.
	// It is terminal for the whole stream: it indicates corruption or a
	// mismatched format version, neither of which is recoverable.
	ErrMalformedHeader = errors.New("dare: malformed frame header")

	// ErrAuthentication reports an AEAD tag mismatch or a frame arriving
	// out of sequence. No plaintext is ever produced for such a frame.
	ErrAuthentication = errors.New("dare: frame authentication failed")

	// ErrPayloadTooLarge reports an attempt to encrypt more than
	// MaxPayloadSize bytes into a single frame.
	ErrPayloadTooLarge = errors.New("dare: payload exceeds maximum frame size")
)

// Header is the fixed-size frame header.
//
// Layout:
//
//	[0]     version
//	[1]     cipher suite
//	[2:4]   payload length - 1, little endian
//	[4:8]   frame sequence number, big endian
//	[8:16]  stream base nonce
//
// The AEAD nonce for a frame is the 8-byte base nonce followed by the
// 4-byte sequence number; the base nonce is random per stream and the
// sequence number is strictly monotonic, so nonces never repeat under a
// given key. The full header doubles as the frame's associated data.
type Header [HeaderSize]byte

// ParseHeader validates and copies a frame header from b.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: got %d of %d header bytes", ErrMalformedHeader, len(b), HeaderSize)
	}
	copy(h[:], b[:HeaderSize])
	if h.Version() != Version {
		return h, fmt.Errorf("%w: unsupported version %#x", ErrMalformedHeader, h.Version())
	}
	switch h.Cipher() {
	case AES256GCM, ChaCha20Poly1305:
	default:
		return h, fmt.Errorf("%w: unknown cipher suite %#x", ErrMalformedHeader, byte(h.Cipher()))
	}
	return h, nil
}

// Version returns the format version byte.
func (h Header) Version() byte { return h[0] }

// Cipher returns the cipher suite the frame was sealed with.
func (h Header) Cipher() CipherSuite { return CipherSuite(h[1]) }

// PayloadLen returns the plaintext payload length of this frame, in
// [1, MaxPayloadSize].
func (h Header) PayloadLen() int {
	return int(binary.LittleEndian.Uint16(h[2:4])) + 1
}

// SequenceNumber returns the zero-based frame index within the stream.
func (h Header) SequenceNumber() uint32 {
	return binary.BigEndian.Uint32(h[4:8])
}

// BaseNonce returns the per-stream random nonce prefix.
func (h Header) BaseNonce() [baseNonceSize]byte {
	var n [baseNonceSize]byte
	copy(n[:], h[8:16])
	return n
}

// nonce assembles the 12-byte AEAD nonce for this frame.
func (h Header) nonce() [nonceSize]byte {
	var n [nonceSize]byte
	copy(n[:baseNonceSize], h[8:16])
	copy(n[baseNonceSize:], h[4:8])
	return n
}

func newHeader(suite CipherSuite, payloadLen int, seq uint32, baseNonce [baseNonceSize]byte) Header {
	var h Header
	h[0] = Version
	h[1] = byte(suite)
	binary.LittleEndian.PutUint16(h[2:4], uint16(payloadLen-1))
	binary.BigEndian.PutUint32(h[4:8], seq)
	copy(h[8:16], baseNonce[:])
	return h
}

// EncryptedSize returns the on-wire size of a stream encrypting size
// plaintext bytes.
func EncryptedSize(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	frames := (size + MaxPayloadSize - 1) / MaxPayloadSize
	return size + frames*FrameOverhead
}

// DecryptedSize returns the plaintext size of a stream whose on-wire size
// is size. The inverse of EncryptedSize. Sizes too small to hold their own
// frame overhead are not valid ciphertext lengths and saturate to zero;
// reading such a stream reports the actual corruption.
func DecryptedSize(size uint64) uint64 {
	frames := (size + MaxFrameSize - 1) / MaxFrameSize
	if overhead := frames * FrameOverhead; overhead < size {
		return size - overhead
	}
	return 0
}
