package crypto

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-storage/objseal/internal/dare"
)

func TestEncryptObjectMetadata(t *testing.T) {
	kek := testKEK(t)
	reader, metadata, err := EncryptObject(bytes.NewReader([]byte("hello")), kek, "bucket/hello.txt")
	require.NoError(t, err)
	require.NotNil(t, reader)

	assert.Equal(t, SealingAlgorithm, metadata[MetaAlgorithm])
	assert.NotEmpty(t, metadata[MetaIV])
	assert.NotEmpty(t, metadata[MetaSealedKeySSEC])
	assert.True(t, IsEncrypted(metadata))
	assert.True(t, IsSSEC(metadata))
	assert.False(t, IsSSEKMS(metadata))
}

func TestObjectEncryptDecryptRoundTrip(t *testing.T) {
	kek := testKEK(t)
	plaintext := bytes.Repeat([]byte("confidential payload "), 20000)
	const path = "bucket/archive/dump.tar"

	reader, metadata, err := EncryptObject(bytes.NewReader(plaintext), kek, path)
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, dare.EncryptedSize(uint64(len(plaintext))), uint64(len(ciphertext)))
	assert.Equal(t, uint64(len(plaintext)), DecryptedSize(uint64(len(ciphertext)), metadata))

	var out bytes.Buffer
	writer, err := NewObjectDecrypter(&out, kek, metadata, path)
	require.NoError(t, err)
	_, err = writer.Write(ciphertext)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Equal(t, plaintext, out.Bytes())
}

func TestObjectDecryptWrongPath(t *testing.T) {
	kek := testKEK(t)
	reader, metadata, err := EncryptObject(bytes.NewReader([]byte("secret")), kek, "bucket/a")
	require.NoError(t, err)
	_, err = io.ReadAll(reader)
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = NewObjectDecrypter(&out, kek, metadata, "bucket/b")
	assert.ErrorIs(t, err, dare.ErrAuthentication)
}

func TestRangedObjectDecrypter(t *testing.T) {
	kek := testKEK(t)
	plaintext := bytes.Repeat([]byte("abcde"), 40000)
	const path = "bucket/pattern.bin"

	reader, metadata, err := EncryptObject(bytes.NewReader(plaintext), kek, path)
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(reader)
	require.NoError(t, err)

	// Serve bytes 65533..65540 from the two frames that cover them.
	var out bytes.Buffer
	writer, err := NewRangedObjectDecrypter(&out, kek, metadata, path, 65533, 8, 0)
	require.NoError(t, err)
	_, err = writer.Write(ciphertext[:2*dare.MaxFrameSize])
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Equal(t, "deabcdea", out.String())
}

func TestRangedObjectDecrypterMidStream(t *testing.T) {
	// Same window, but fetching only the second covering frame and
	// seeding the filter with the frame's plaintext offset.
	kek := testKEK(t)
	plaintext := bytes.Repeat([]byte("abcde"), 40000)
	const path = "bucket/pattern.bin"

	reader, metadata, err := EncryptObject(bytes.NewReader(plaintext), kek, path)
	require.NoError(t, err)
	ciphertext, err := io.ReadAll(reader)
	require.NoError(t, err)

	var out bytes.Buffer
	writer, err := NewRangedObjectDecrypter(&out, kek, metadata, path, 65536, 5, dare.MaxPayloadSize)
	require.NoError(t, err)
	_, err = writer.Write(ciphertext[dare.MaxFrameSize : 2*dare.MaxFrameSize])
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Equal(t, "bcdea", out.String())
}

func TestSealedKeyFromMetadata(t *testing.T) {
	kek := testKEK(t)
	_, metadata, err := EncryptObject(bytes.NewReader(nil), kek, "bucket/x")
	require.NoError(t, err)

	sealed, err := SealedKeyFromMetadata(metadata)
	require.NoError(t, err)
	assert.Equal(t, DomainSSEC, sealed.Domain())

	t.Run("not encrypted", func(t *testing.T) {
		_, err := SealedKeyFromMetadata(map[string]string{"content-type": "text/plain"})
		assert.Error(t, err)
	})

	t.Run("missing IV", func(t *testing.T) {
		broken := map[string]string{
			MetaSealedKeySSEC: metadata[MetaSealedKeySSEC],
			MetaAlgorithm:     metadata[MetaAlgorithm],
		}
		_, err := SealedKeyFromMetadata(broken)
		assert.Error(t, err)
	})

	t.Run("missing algorithm", func(t *testing.T) {
		broken := map[string]string{
			MetaSealedKeySSEC: metadata[MetaSealedKeySSEC],
			MetaIV:            metadata[MetaIV],
		}
		_, err := SealedKeyFromMetadata(broken)
		assert.Error(t, err)
	})
}

func TestDecryptedSize(t *testing.T) {
	encrypted := map[string]string{MetaSealedKeySSEC: "sealed"}
	plain := map[string]string{}

	assert.Equal(t, uint64(70000), DecryptedSize(70000, plain))
	assert.Equal(t, uint64(0), DecryptedSize(0, encrypted))
	assert.Equal(t, uint64(200000), DecryptedSize(200000+4*dare.FrameOverhead, encrypted))
}
