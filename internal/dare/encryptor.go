package dare

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of a stream encryption key.
const KeySize = 32

func newAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("dare: invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}
	switch suite {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("dare: failed to create AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("dare: unsupported cipher suite %#x", byte(suite))
	}
}

// Encryptor seals a plaintext stream into frames, one frame per call.
// It owns the stream's base nonce and sequence counter; an Encryptor must
// not be reused across streams.
type Encryptor struct {
	aead      cipher.AEAD
	suite     CipherSuite
	baseNonce [baseNonceSize]byte
	seq       uint32
}

// NewEncryptor creates an Encryptor for one stream. The base nonce is
// drawn from crypto/rand.
func NewEncryptor(key []byte, suite CipherSuite) (*Encryptor, error) {
	aead, err := newAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	e := &Encryptor{aead: aead, suite: suite}
	if _, err := io.ReadFull(rand.Reader, e.baseNonce[:]); err != nil {
		return nil, fmt.Errorf("dare: failed to generate base nonce: %w", err)
	}
	return e, nil
}

// EncryptFrame seals plaintext into the next frame of the stream and
// returns header || ciphertext || tag. plaintext must be between 1 and
// MaxPayloadSize bytes.
func (e *Encryptor) EncryptFrame(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("dare: empty frame payload")
	}
	if len(plaintext) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	header := newHeader(e.suite, len(plaintext), e.seq, e.baseNonce)
	nonce := header.nonce()

	frame := make([]byte, HeaderSize, HeaderSize+len(plaintext)+TagSize)
	copy(frame, header[:])
	frame = e.aead.Seal(frame, nonce[:], plaintext, header[:])

	e.seq++
	return frame, nil
}

// EncryptReader wraps a plaintext source and yields the encrypted frame
// stream. Each pull accumulates up to MaxPayloadSize plaintext bytes from
// the source (looping on short reads), seals them into one frame, and
// serves the frame bytes; leftover frame bytes are buffered for the next
// pull. The stream ends when the source is exhausted: the final short
// frame plus EOF is the termination signal, there is no trailer.
type EncryptReader struct {
	src    io.Reader
	enc    *Encryptor
	frame  []byte // sealed bytes not yet delivered
	chunk  []byte
	filled int
	err    error
}

// NewEncryptReader creates an EncryptReader over src.
func NewEncryptReader(src io.Reader, enc *Encryptor) *EncryptReader {
	return &EncryptReader{
		src:   src,
		enc:   enc,
		chunk: make([]byte, MaxPayloadSize),
	}
}

// Read implements io.Reader.
func (r *EncryptReader) Read(p []byte) (int, error) {
	if len(r.frame) > 0 {
		n := copy(p, r.frame)
		r.frame = r.frame[n:]
		return n, nil
	}
	if r.err != nil {
		return 0, r.err
	}

	// Fill the chunk buffer until it is full or the source is exhausted.
	// A short read from the source is not a frame boundary.
	for r.filled < MaxPayloadSize {
		n, err := r.src.Read(r.chunk[r.filled:])
		r.filled += n
		if err == io.EOF {
			r.err = io.EOF
			break
		}
		if err != nil {
			r.err = err
			return 0, err
		}
		if n == 0 {
			r.err = io.EOF
			break
		}
	}

	if r.filled == 0 {
		return 0, r.err
	}

	frame, err := r.enc.EncryptFrame(r.chunk[:r.filled])
	if err != nil {
		r.err = err
		return 0, err
	}
	r.filled = 0
	r.frame = frame

	n := copy(p, r.frame)
	r.frame = r.frame[n:]
	return n, nil
}
