package crypto

import (
	"fmt"

	"github.com/keystone-storage/objseal/internal/dare"
)

// Metadata keys attached to encrypted objects on the backend.
const (
	// MetaAlgorithm is the algorithm used to derive internal keys and
	// encrypt the object.
	MetaAlgorithm = "sse-algorithm"

	// MetaIV is the random initialization vector used for sealing-key
	// derivation.
	MetaIV = "sse-iv"

	// MetaSealedKeySSEC is the sealed object encryption key for SSE-C.
	MetaSealedKeySSEC = "sse-sealed-key-ssec"

	// MetaSealedKeySSEKMS is the sealed object encryption key for SSE-KMS.
	MetaSealedKeySSEKMS = "sse-sealed-key-kms"
)

// IsEncrypted reports whether metadata marks an encrypted object.
func IsEncrypted(metadata map[string]string) bool {
	return IsSSEC(metadata) || IsSSEKMS(metadata)
}

// IsSSEC reports whether the object was encrypted in the SSE-C domain.
func IsSSEC(metadata map[string]string) bool {
	_, ok := metadata[MetaSealedKeySSEC]
	return ok
}

// IsSSEKMS reports whether the object was encrypted in the SSE-KMS domain.
func IsSSEKMS(metadata map[string]string) bool {
	_, ok := metadata[MetaSealedKeySSEKMS]
	return ok
}

// SealedKeyFromMetadata extracts the sealed object key of an encrypted
// object from its metadata.
func SealedKeyFromMetadata(metadata map[string]string) (*SealedObjectKey, error) {
	if !IsEncrypted(metadata) {
		return nil, fmt.Errorf("crypto: object is not encrypted")
	}
	if !IsSSEC(metadata) {
		return nil, fmt.Errorf("crypto: unsupported encryption domain")
	}

	iv, ok := metadata[MetaIV]
	if !ok {
		return nil, fmt.Errorf("crypto: encrypted object is missing %s metadata", MetaIV)
	}
	algorithm, ok := metadata[MetaAlgorithm]
	if !ok {
		return nil, fmt.Errorf("crypto: encrypted object is missing %s metadata", MetaAlgorithm)
	}
	return NewSealedObjectKey(metadata[MetaSealedKeySSEC], iv, algorithm, DomainSSEC)
}

// DecryptedSize returns the plaintext size of an object given its stored
// size and metadata. Unencrypted objects pass through unchanged.
func DecryptedSize(size uint64, metadata map[string]string) uint64 {
	if !IsEncrypted(metadata) {
		return size
	}
	return dare.DecryptedSize(size)
}
