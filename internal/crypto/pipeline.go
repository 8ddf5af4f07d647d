package crypto

import (
	"fmt"
	"io"

	"github.com/keystone-storage/objseal/internal/dare"
)

// EncryptObject wraps a plaintext source for upload. It generates a fresh
// object key under the KEK, seals it for the object path in the SSE-C
// domain, and returns the encrypting reader together with the metadata
// that must be stored alongside the ciphertext.
func EncryptObject(src io.Reader, kek []byte, objectPath string) (io.Reader, map[string]string, error) {
	objectKey, err := GenerateObjectKey(kek, nil)
	if err != nil {
		return nil, nil, err
	}

	enc, err := dare.NewEncryptor(objectKey.Bytes(), dare.AES256GCM)
	if err != nil {
		return nil, nil, err
	}

	iv, err := GenerateIV(nil)
	if err != nil {
		return nil, nil, err
	}
	sealed, err := objectKey.Seal(kek, iv, DomainSSEC, objectPath)
	if err != nil {
		return nil, nil, err
	}

	metadata := map[string]string{
		MetaSealedKeySSEC: sealed.KeyString(),
		MetaIV:            sealed.IVString(),
		MetaAlgorithm:     sealed.Algorithm(),
	}
	return dare.NewEncryptReader(src, enc), metadata, nil
}

// NewObjectDecrypter builds a DecryptWriter for a whole-object download.
// The sealed key is recovered from metadata and unsealed for objectPath;
// decrypted plaintext is forwarded to dst.
func NewObjectDecrypter(dst io.Writer, kek []byte, metadata map[string]string, objectPath string) (*dare.DecryptWriter, error) {
	dec, err := objectDecryptor(kek, metadata, objectPath)
	if err != nil {
		return nil, err
	}
	return dare.NewDecryptWriter(dst, dec), nil
}

// NewRangedObjectDecrypter builds a DecryptWriter for a ranged download.
// The ciphertext pushed into the writer must start at a frame boundary;
// consumed is the plaintext offset of that boundary, and only the window
// [offset, offset+length) reaches dst.
func NewRangedObjectDecrypter(dst io.Writer, kek []byte, metadata map[string]string, objectPath string, offset, length, consumed uint64) (*dare.DecryptWriter, error) {
	dec, err := objectDecryptor(kek, metadata, objectPath)
	if err != nil {
		return nil, err
	}
	return dare.NewDecryptWriterWithFilter(dst, dec, dare.NewFilter(offset, length, consumed)), nil
}

func objectDecryptor(kek []byte, metadata map[string]string, objectPath string) (*dare.Decryptor, error) {
	sealed, err := SealedKeyFromMetadata(metadata)
	if err != nil {
		return nil, err
	}
	objectKey, err := sealed.Unseal(kek, objectPath)
	if err != nil {
		return nil, fmt.Errorf("object key unseal failed for %q: %w", objectPath, err)
	}
	return dare.NewDecryptor(objectKey.Bytes())
}
