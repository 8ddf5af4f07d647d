package dare

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func encryptAll(t *testing.T, key, plaintext []byte, suite CipherSuite) []byte {
	t.Helper()
	enc, err := NewEncryptor(key, suite)
	require.NoError(t, err)
	reader := NewEncryptReader(bytes.NewReader(plaintext), enc)
	ciphertext, err := io.ReadAll(reader)
	require.NoError(t, err)
	return ciphertext
}

func decryptAll(t *testing.T, key, ciphertext []byte) ([]byte, error) {
	t.Helper()
	dec, err := NewDecryptor(key)
	require.NoError(t, err)
	var out bytes.Buffer
	writer := NewDecryptWriter(&out, dec)
	if _, err := writer.Write(ciphertext); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "empty", size: 0},
		{name: "one byte", size: 1},
		{name: "less than one frame", size: 1000},
		{name: "exactly one frame", size: MaxPayloadSize},
		{name: "one frame plus one byte", size: MaxPayloadSize + 1},
		{name: "several frames plus remainder", size: 3*MaxPayloadSize + 3392},
	}

	for _, suite := range []CipherSuite{AES256GCM, ChaCha20Poly1305} {
		for _, tt := range tests {
			t.Run(suite.String()+"/"+tt.name, func(t *testing.T) {
				key := testKey(t)
				plaintext := make([]byte, tt.size)
				_, err := rand.Read(plaintext)
				require.NoError(t, err)

				ciphertext := encryptAll(t, key, plaintext, suite)
				assert.Equal(t, EncryptedSize(uint64(tt.size)), uint64(len(ciphertext)))

				decrypted, err := decryptAll(t, key, ciphertext)
				require.NoError(t, err)
				if tt.size == 0 {
					assert.Empty(t, decrypted)
				} else {
					assert.Equal(t, plaintext, decrypted)
				}
			})
		}
	}
}

func TestRoundTripShortSourceReads(t *testing.T) {
	// A source that trickles bytes must not produce short frames.
	key := testKey(t)
	plaintext := bytes.Repeat([]byte("abcde"), 40000)

	enc, err := NewEncryptor(key, AES256GCM)
	require.NoError(t, err)
	reader := NewEncryptReader(iotest{r: bytes.NewReader(plaintext), max: 7}, enc)
	ciphertext, err := io.ReadAll(reader)
	require.NoError(t, err)

	// 200000 bytes over 64 KiB frames is 4 frames.
	assert.Equal(t, len(plaintext)+4*FrameOverhead, len(ciphertext))

	decrypted, err := decryptAll(t, key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

// iotest limits every read to max bytes.
type iotest struct {
	r   io.Reader
	max int
}

func (s iotest) Read(p []byte) (int, error) {
	if len(p) > s.max {
		p = p[:s.max]
	}
	return s.r.Read(p)
}

func TestDecryptWriterChunkingIndependence(t *testing.T) {
	key := testKey(t)
	plaintext := bytes.Repeat([]byte{0xA5}, 2*MaxPayloadSize+777)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	chunkSizes := []int{1, 7, HeaderSize, HeaderSize + 1, 4096, MaxFrameSize, MaxFrameSize + 13, len(ciphertext)}
	for _, size := range chunkSizes {
		dec, err := NewDecryptor(key)
		require.NoError(t, err)
		var out bytes.Buffer
		writer := NewDecryptWriter(&out, dec)

		for off := 0; off < len(ciphertext); off += size {
			end := off + size
			if end > len(ciphertext) {
				end = len(ciphertext)
			}
			n, err := writer.Write(ciphertext[off:end])
			require.NoError(t, err, "chunk size %d", size)
			require.Equal(t, end-off, n)
		}
		require.NoError(t, writer.Close(), "chunk size %d", size)
		assert.Equal(t, plaintext, out.Bytes(), "chunk size %d", size)
	}
}

func TestDecryptWriterResumesPartialSinkWrites(t *testing.T) {
	key := testKey(t)
	plaintext := bytes.Repeat([]byte("objseal"), 30000)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	dec, err := NewDecryptor(key)
	require.NoError(t, err)
	sink := &slowSink{max: 100}
	writer := NewDecryptWriter(sink, dec)
	_, err = writer.Write(ciphertext)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Equal(t, plaintext, sink.buf.Bytes())
}

// slowSink accepts at most max bytes per write without returning an error.
type slowSink struct {
	buf bytes.Buffer
	max int
}

func (s *slowSink) Write(p []byte) (int, error) {
	if len(p) > s.max {
		p = p[:s.max]
	}
	return s.buf.Write(p)
}

func TestTamperDetection(t *testing.T) {
	key := testKey(t)
	plaintext := bytes.Repeat([]byte{0x42}, MaxPayloadSize+100)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	tests := []struct {
		name   string
		offset int
	}{
		{name: "first frame payload", offset: HeaderSize + 10},
		{name: "first frame tag", offset: HeaderSize + MaxPayloadSize + 5},
		{name: "second frame header sequence", offset: MaxFrameSize + 4},
		{name: "second frame payload", offset: MaxFrameSize + HeaderSize + 50},
		{name: "last byte", offset: len(ciphertext) - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupted := bytes.Clone(ciphertext)
			corrupted[tt.offset] ^= 0x01

			dec, err := NewDecryptor(key)
			require.NoError(t, err)
			var out bytes.Buffer
			writer := NewDecryptWriter(&out, dec)
			_, werr := writer.Write(corrupted)
			if werr == nil {
				werr = writer.Close()
			}
			require.ErrorIs(t, werr, ErrAuthentication)

			// Nothing from the corrupted frame may have been emitted.
			// Frames before it are fine.
			assert.LessOrEqual(t, out.Len(), MaxPayloadSize)
		})
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	ciphertext := encryptAll(t, key, []byte("confidential"), AES256GCM)

	wrongKey := testKey(t)
	_, err := decryptAll(t, wrongKey, ciphertext)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecryptRejectsReorderedFrames(t *testing.T) {
	key := testKey(t)
	plaintext := bytes.Repeat([]byte{0x11}, 2*MaxPayloadSize)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)
	require.Equal(t, 2*MaxFrameSize, len(ciphertext))

	swapped := make([]byte, 0, len(ciphertext))
	swapped = append(swapped, ciphertext[MaxFrameSize:]...)
	swapped = append(swapped, ciphertext[:MaxFrameSize]...)

	_, err := decryptAll(t, key, swapped)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecryptRejectsReplayedFrame(t *testing.T) {
	key := testKey(t)
	plaintext := bytes.Repeat([]byte{0x22}, MaxPayloadSize)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	replayed := append(bytes.Clone(ciphertext), ciphertext...)
	_, err := decryptAll(t, key, replayed)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestDecryptMalformedHeader(t *testing.T) {
	key := testKey(t)
	dec, err := NewDecryptor(key)
	require.NoError(t, err)

	garbage := make([]byte, MaxFrameSize)
	garbage[0] = 0x99 // bad version
	var out bytes.Buffer
	writer := NewDecryptWriter(&out, dec)
	_, werr := writer.Write(garbage)
	assert.ErrorIs(t, werr, ErrMalformedHeader)
	assert.Zero(t, out.Len())
}

func TestCloseOnTruncatedStream(t *testing.T) {
	key := testKey(t)
	ciphertext := encryptAll(t, key, bytes.Repeat([]byte{0x33}, 5000), AES256GCM)

	dec, err := NewDecryptor(key)
	require.NoError(t, err)
	var out bytes.Buffer
	writer := NewDecryptWriter(&out, dec)
	_, err = writer.Write(ciphertext[:len(ciphertext)-1])
	require.NoError(t, err)
	assert.ErrorIs(t, writer.Close(), ErrMalformedHeader)
}

func TestFilteredDecryption(t *testing.T) {
	// 200,000 bytes repeating every 5 bytes, spanning 4 frames:
	//
	// 0               65535              131071              196607  199999
	// +-------------------+-------------------+-------------------+-------+
	// |       64KiB       |       64KiB       |       64KiB       | 3392B |
	// +-------------------+-------------------+-------------------+-------+
	// abcde.............deabcdea............eabcdea.............abcde....e
	key := testKey(t)
	plaintext := bytes.Repeat([]byte("abcde"), 40000)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	tests := []struct {
		offset   uint64
		length   uint64
		expected string
	}{
		{offset: 0, length: 5, expected: "abcde"},
		{offset: 0, length: 6, expected: "abcdea"},
		{offset: 65533, length: 3, expected: "dea"},
		{offset: 65533, length: 8, expected: "deabcdea"},
		{offset: 69999, length: 1, expected: "e"},
		{offset: 131069, length: 7, expected: "eabcdea"},
		{offset: 196605, length: 6, expected: "abcdea"},
		{offset: 199999, length: 1, expected: "e"},
	}

	for _, tt := range tests {
		dec, err := NewDecryptor(key)
		require.NoError(t, err)
		var out bytes.Buffer
		writer := NewDecryptWriterWithFilter(&out, dec, NewFilter(tt.offset, tt.length, 0))
		_, err = writer.Write(ciphertext)
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		assert.Equal(t, tt.expected, out.String(), "offset=%d length=%d", tt.offset, tt.length)
	}
}

func TestFilterFullObjectMatchesUnfiltered(t *testing.T) {
	key := testKey(t)
	plaintext := bytes.Repeat([]byte("xyzzy"), 50000)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	unfiltered, err := decryptAll(t, key, ciphertext)
	require.NoError(t, err)

	dec, err := NewDecryptor(key)
	require.NoError(t, err)
	var out bytes.Buffer
	writer := NewDecryptWriterWithFilter(&out, dec, NewFilter(0, uint64(len(plaintext)), 0))
	_, err = writer.Write(ciphertext)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Equal(t, unfiltered, out.Bytes())
}

func TestFilterExhaustedKeepsAuthenticating(t *testing.T) {
	key := testKey(t)
	plaintext := bytes.Repeat([]byte{0x55}, 3*MaxPayloadSize)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	// Window entirely inside the first frame; the trailing frames still
	// get authenticated and a corrupted one still fails the session.
	corrupted := bytes.Clone(ciphertext)
	corrupted[2*MaxFrameSize+HeaderSize] ^= 0x01

	dec, err := NewDecryptor(key)
	require.NoError(t, err)
	var out bytes.Buffer
	writer := NewDecryptWriterWithFilter(&out, dec, NewFilter(0, 10, 0))
	_, werr := writer.Write(corrupted)
	assert.ErrorIs(t, werr, ErrAuthentication)
	assert.Equal(t, plaintext[:10], out.Bytes())
}

func TestFilterMidStreamStart(t *testing.T) {
	// Decrypting from the second frame onward, as a ranged read does:
	// the filter's consumed counter starts at the frame boundary.
	key := testKey(t)
	plaintext := bytes.Repeat([]byte("abcde"), 40000)
	ciphertext := encryptAll(t, key, plaintext, AES256GCM)

	dec, err := NewDecryptor(key)
	require.NoError(t, err)
	var out bytes.Buffer
	filter := NewFilter(MaxPayloadSize, 5, MaxPayloadSize)
	writer := NewDecryptWriterWithFilter(&out, dec, filter)
	_, err = writer.Write(ciphertext[MaxFrameSize:])
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	assert.Equal(t, string(plaintext[MaxPayloadSize:MaxPayloadSize+5]), out.String())
}

func TestFilterSkipClampsToZero(t *testing.T) {
	// A filter seeded with consumed past the window start must not
	// underflow the skip; it emits from the first available byte.
	filter := NewFilter(65533, 8, 65536)
	chunk := bytes.Repeat([]byte("vwxyz"), 20)

	got := filter.Apply(chunk)
	assert.Equal(t, chunk[:8], got)
	assert.Zero(t, filter.Remaining())
}

func TestEncryptedDecryptedSize(t *testing.T) {
	tests := []struct {
		plaintext uint64
		frames    uint64
	}{
		{plaintext: 0, frames: 0},
		{plaintext: 1, frames: 1},
		{plaintext: MaxPayloadSize, frames: 1},
		{plaintext: MaxPayloadSize + 1, frames: 2},
		{plaintext: 200000, frames: 4},
	}
	for _, tt := range tests {
		enc := EncryptedSize(tt.plaintext)
		assert.Equal(t, tt.plaintext+tt.frames*FrameOverhead, enc)
		assert.Equal(t, tt.plaintext, DecryptedSize(enc))
	}
}

func TestDecryptedSizeInvalidInput(t *testing.T) {
	// Sizes smaller than one frame's overhead are not valid ciphertext
	// lengths; they must report zero, never wrap around.
	for _, size := range []uint64{1, 10, 31, FrameOverhead} {
		assert.Zero(t, DecryptedSize(size), "size=%d", size)
	}
	assert.Equal(t, uint64(1), DecryptedSize(FrameOverhead+1))
}

func TestParseHeader(t *testing.T) {
	var baseNonce [8]byte
	h := newHeader(AES256GCM, MaxPayloadSize, 7, baseNonce)
	parsed, err := ParseHeader(h[:])
	require.NoError(t, err)
	assert.Equal(t, MaxPayloadSize, parsed.PayloadLen())
	assert.Equal(t, uint32(7), parsed.SequenceNumber())
	assert.Equal(t, AES256GCM, parsed.Cipher())

	_, err = ParseHeader(h[:HeaderSize-1])
	assert.ErrorIs(t, err, ErrMalformedHeader)

	bad := h
	bad[1] = 0x7f
	_, err = ParseHeader(bad[:])
	assert.ErrorIs(t, err, ErrMalformedHeader)
}
