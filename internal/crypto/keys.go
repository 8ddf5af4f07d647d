// Package crypto implements per-object key management and the object
// encryption pipelines on top of the frame codec in internal/dare.
//
// Every object is encrypted under its own random object key. The object
// key never leaves the process in the clear: it is sealed under a key
// derived from the key-encryption key (KEK), a random IV, the encryption
// domain, and the object path, and the sealed form is stored in the
// object's metadata. Unsealing for a different path or domain fails
// authentication, so sealed keys cannot be spliced between objects.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/keystone-storage/objseal/internal/dare"
)

const (
	// KEKSize is the required size of a key-encryption key.
	KEKSize = 32

	// IVSize is the size of the random IV mixed into the sealing key
	// derivation.
	IVSize = 32

	// SealingAlgorithm names the sealing scheme. It is stored in object
	// metadata and bound into the sealing key derivation.
	SealingAlgorithm = "DAREv1-HMAC-SHA256"

	// DomainSSEC is the encryption domain for client-provided keys.
	DomainSSEC = "SSE-C"

	// keyDerivationContext separates object key generation from every
	// other use of the KEK under HMAC.
	keyDerivationContext = "object-encryption-key generation"
)

// ObjectKey is the per-object encryption key. It exists only in memory;
// at rest the object carries a SealedObjectKey.
type ObjectKey struct {
	key [dare.KeySize]byte
}

// Bytes returns the raw key material.
func (k *ObjectKey) Bytes() []byte { return k.key[:] }

// GenerateObjectKey derives a fresh object key from the KEK and a random
// nonce drawn from random (crypto/rand when nil). The derivation is
// keyed, so a leaked nonce alone reveals nothing about the key.
func GenerateObjectKey(kek []byte, random io.Reader) (*ObjectKey, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("crypto: invalid KEK size: expected %d bytes, got %d", KEKSize, len(kek))
	}
	if random == nil {
		random = rand.Reader
	}

	nonce := make([]byte, 32)
	if _, err := io.ReadFull(random, nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key nonce: %w", err)
	}

	mac := hmac.New(sha256.New, kek)
	mac.Write([]byte(keyDerivationContext))
	mac.Write(nonce)

	key := &ObjectKey{}
	copy(key.key[:], mac.Sum(nil))
	return key, nil
}

// GenerateIV returns a random IV for sealing-key derivation, drawn from
// random (crypto/rand when nil).
func GenerateIV(random io.Reader) ([IVSize]byte, error) {
	var iv [IVSize]byte
	if random == nil {
		random = rand.Reader
	}
	if _, err := io.ReadFull(random, iv[:]); err != nil {
		return iv, fmt.Errorf("crypto: failed to generate IV: %w", err)
	}
	return iv, nil
}

// sealingKey derives the key that wraps an object key. Binding the IV,
// domain, algorithm name, and object path means a sealed key only
// unseals at the exact location it was created for.
func sealingKey(kek []byte, iv [IVSize]byte, domain, objectPath string) []byte {
	mac := hmac.New(sha256.New, kek)
	mac.Write(iv[:])
	mac.Write([]byte(domain))
	mac.Write([]byte(SealingAlgorithm))
	mac.Write([]byte(objectPath))
	return mac.Sum(nil)[:dare.KeySize]
}

// Seal wraps the object key under the KEK for the given domain and
// object path. The sealed form is a single authenticated frame.
func (k *ObjectKey) Seal(kek []byte, iv [IVSize]byte, domain, objectPath string) (*SealedObjectKey, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("crypto: invalid KEK size: expected %d bytes, got %d", KEKSize, len(kek))
	}

	enc, err := dare.NewEncryptor(sealingKey(kek, iv, domain, objectPath), dare.AES256GCM)
	if err != nil {
		return nil, err
	}
	sealed, err := enc.EncryptFrame(k.key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to seal object key: %w", err)
	}

	return &SealedObjectKey{
		key:       sealed,
		iv:        iv,
		algorithm: SealingAlgorithm,
		domain:    domain,
	}, nil
}

// SealedObjectKey is the at-rest form of an object key: the key
// encrypted as one frame under the path-bound sealing key, plus the IV
// and algorithm needed to reverse the derivation.
type SealedObjectKey struct {
	key       []byte
	iv        [IVSize]byte
	algorithm string
	domain    string
}

// NewSealedObjectKey reassembles a sealed key from its metadata form.
// key and iv are base64 as stored in object metadata.
func NewSealedObjectKey(key, iv, algorithm, domain string) (*SealedObjectKey, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: malformed sealed key: %w", err)
	}
	rawIV, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("crypto: malformed IV: %w", err)
	}
	if len(rawIV) != IVSize {
		return nil, fmt.Errorf("crypto: invalid IV size: expected %d bytes, got %d", IVSize, len(rawIV))
	}

	s := &SealedObjectKey{key: rawKey, algorithm: algorithm, domain: domain}
	copy(s.iv[:], rawIV)
	return s, nil
}

// KeyString returns the sealed key as base64 for metadata storage.
func (s *SealedObjectKey) KeyString() string {
	return base64.StdEncoding.EncodeToString(s.key)
}

// IVString returns the IV as base64 for metadata storage.
func (s *SealedObjectKey) IVString() string {
	return base64.StdEncoding.EncodeToString(s.iv[:])
}

// Algorithm returns the sealing algorithm name.
func (s *SealedObjectKey) Algorithm() string { return s.algorithm }

// Domain returns the encryption domain the key was sealed in.
func (s *SealedObjectKey) Domain() string { return s.domain }

// Unseal recovers the object key. It fails with dare.ErrAuthentication
// if the KEK, domain, or object path differ from the ones used to seal,
// or if the sealed bytes were tampered with.
func (s *SealedObjectKey) Unseal(kek []byte, objectPath string) (*ObjectKey, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("crypto: invalid KEK size: expected %d bytes, got %d", KEKSize, len(kek))
	}
	if len(s.key) < dare.HeaderSize {
		return nil, fmt.Errorf("%w: sealed key too short", dare.ErrMalformedHeader)
	}

	dec, err := dare.NewDecryptor(sealingKey(kek, s.iv, s.domain, objectPath))
	if err != nil {
		return nil, err
	}
	header, err := dare.ParseHeader(s.key[:dare.HeaderSize])
	if err != nil {
		return nil, err
	}
	raw, err := dec.DecryptFrame(header, s.key[dare.HeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("failed to unseal object key: %w", err)
	}
	if len(raw) != dare.KeySize {
		return nil, fmt.Errorf("%w: unsealed key has wrong size", dare.ErrAuthentication)
	}

	key := &ObjectKey{}
	copy(key.key[:], raw)
	return key, nil
}
