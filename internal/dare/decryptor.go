package dare

import (
	"bytes"
	"crypto/cipher"
	"fmt"
	"io"
)

// Decryptor opens frames of one stream in order. The first frame it sees
// fixes the stream's base nonce and starting sequence number; every later
// frame must carry the same base nonce and the next sequence number, so a
// reordered, replayed, or spliced frame is rejected. Starting mid-stream
// at a frame boundary is supported: ranged reads hand the decryptor the
// first fetched frame and the counter latches onto its sequence number.
type Decryptor struct {
	key   [KeySize]byte
	aead  cipher.AEAD
	suite CipherSuite

	started   bool
	baseNonce [baseNonceSize]byte
	seq       uint32
}

// NewDecryptor creates a Decryptor for one stream. The cipher suite is
// read from the first frame's header.
func NewDecryptor(key []byte) (*Decryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("dare: invalid key size: expected %d bytes, got %d", KeySize, len(key))
	}
	d := &Decryptor{}
	copy(d.key[:], key)
	return d, nil
}

// DecryptFrame opens one frame. sealed is the frame body, i.e. exactly
// header.PayloadLen()+TagSize bytes following the header on the wire.
func (d *Decryptor) DecryptFrame(header Header, sealed []byte) ([]byte, error) {
	if len(sealed) != header.PayloadLen()+TagSize {
		return nil, fmt.Errorf("%w: frame body is %d bytes, header says %d",
			ErrMalformedHeader, len(sealed), header.PayloadLen()+TagSize)
	}

	if !d.started {
		aead, err := newAEAD(header.Cipher(), d.key[:])
		if err != nil {
			return nil, err
		}
		d.aead = aead
		d.suite = header.Cipher()
		d.baseNonce = header.BaseNonce()
		d.seq = header.SequenceNumber()
		d.started = true
	} else {
		if header.Cipher() != d.suite || header.BaseNonce() != d.baseNonce {
			return nil, fmt.Errorf("%w: frame does not belong to this stream", ErrAuthentication)
		}
		if header.SequenceNumber() != d.seq {
			return nil, fmt.Errorf("%w: frame out of order: got sequence %d, want %d",
				ErrAuthentication, header.SequenceNumber(), d.seq)
		}
	}

	nonce := header.nonce()
	plaintext, err := d.aead.Open(nil, nonce[:], sealed, header[:])
	if err != nil {
		return nil, ErrAuthentication
	}
	d.seq++
	return plaintext, nil
}

// Filter trims decrypted frames to a requested plaintext byte window.
// offset is the absolute index of the first wanted byte, remaining the
// number of wanted bytes not yet emitted, and consumed the running count
// of plaintext bytes produced by decryption so far. consumed starts at
// zero for whole-object reads and at the first fetched frame's plaintext
// offset for ranged reads.
type Filter struct {
	offset    uint64
	remaining uint64
	consumed  uint64
}

// NewFilter creates a Filter emitting the window [offset, offset+length)
// of a stream whose decryption starts at absolute plaintext offset
// consumed.
func NewFilter(offset, length, consumed uint64) *Filter {
	return &Filter{offset: offset, remaining: length, consumed: consumed}
}

// Remaining reports how many wanted bytes have not been emitted yet.
func (f *Filter) Remaining() uint64 { return f.remaining }

// Apply trims one decrypted frame to the wanted window and advances the
// filter. The returned slice aliases chunk. Apply must be called exactly
// once per frame, in stream order; correctness does not depend on how the
// ciphertext was chunked in transit, only on frame order.
func (f *Filter) Apply(chunk []byte) []byte {
	size := uint64(len(chunk))

	// Entirely before the window: swallow it.
	if f.consumed+size <= f.offset {
		f.consumed += size
		return chunk[len(chunk):]
	}

	// The window starts inside this frame, or decryption began past the
	// window start (mid-stream seed). Bytes before the window start are
	// discarded; the skip clamps to zero.
	var skip uint64
	if f.offset > f.consumed {
		skip = f.offset - f.consumed
	}
	want := chunk[skip:]
	f.consumed += size
	f.offset = f.consumed

	if uint64(len(want)) > f.remaining {
		want = want[:f.remaining]
	}
	f.remaining -= uint64(len(want))
	return want
}

type decryptState int

const (
	stateReadingHeader decryptState = iota
	stateDecrypting
	stateWriting
)

// DecryptWriter accepts ciphertext pushes of any size, reassembles and
// opens frames, and forwards the plaintext (optionally trimmed by a
// Filter) to the wrapped sink. Incoming bytes accumulate in an internal
// buffer; a write that does not complete a frame consumes its input and
// reports success, which is normal backpressure rather than an error.
// Any codec or sink error is terminal for the session.
//
// A DecryptWriter is not safe for concurrent use; calls must be
// sequential.
type DecryptWriter struct {
	dst    io.Writer
	dec    *Decryptor
	filter *Filter

	state   decryptState
	header  Header
	buf     bytes.Buffer
	pending []byte
	err     error
}

// NewDecryptWriter creates a DecryptWriter forwarding all plaintext to dst.
func NewDecryptWriter(dst io.Writer, dec *Decryptor) *DecryptWriter {
	return &DecryptWriter{dst: dst, dec: dec}
}

// NewDecryptWriterWithFilter creates a DecryptWriter that forwards only the
// filter's plaintext window to dst. Frames outside the window are still
// authenticated.
func NewDecryptWriterWithFilter(dst io.Writer, dec *Decryptor, filter *Filter) *DecryptWriter {
	return &DecryptWriter{dst: dst, dec: dec, filter: filter}
}

// Write implements io.Writer.
func (w *DecryptWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.buf.Write(p)
	if err := w.process(); err != nil {
		w.err = err
		return 0, err
	}
	return len(p), nil
}

// process advances the state machine as far as the buffered bytes allow.
func (w *DecryptWriter) process() error {
	for {
		switch w.state {
		case stateReadingHeader:
			if w.buf.Len() < HeaderSize {
				return nil
			}
			header, err := ParseHeader(w.buf.Next(HeaderSize))
			if err != nil {
				return err
			}
			w.header = header
			w.state = stateDecrypting

		case stateDecrypting:
			need := w.header.PayloadLen() + TagSize
			if w.buf.Len() < need {
				return nil
			}
			plaintext, err := w.dec.DecryptFrame(w.header, w.buf.Next(need))
			if err != nil {
				return err
			}
			if w.filter != nil {
				plaintext = w.filter.Apply(plaintext)
			}
			w.pending = plaintext
			w.state = stateWriting

		case stateWriting:
			for len(w.pending) > 0 {
				n, err := w.dst.Write(w.pending)
				w.pending = w.pending[n:]
				if err != nil {
					return err
				}
				if n == 0 {
					// Sink made no progress; stay in Writing and
					// resume on the next call.
					return nil
				}
			}
			w.pending = nil
			w.state = stateReadingHeader
		}
	}
}

// Close drains any queued plaintext and verifies the stream ended on a
// frame boundary. Closing with a partial frame still buffered reports a
// malformed (truncated) stream.
func (w *DecryptWriter) Close() error {
	if w.err != nil {
		return w.err
	}
	if err := w.process(); err != nil {
		w.err = err
		return err
	}
	if w.state != stateReadingHeader || w.buf.Len() > 0 {
		w.err = fmt.Errorf("%w: stream truncated mid-frame", ErrMalformedHeader)
		return w.err
	}
	return nil
}
