// Package byterange parses HTTP byte ranges and maps plaintext ranges of
// encrypted objects onto the ciphertext frames that cover them.
package byterange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/keystone-storage/objseal/internal/dare"
)

// ErrInvalidRange reports a range spec that cannot be parsed or cannot
// be satisfied by the object. It maps to HTTP 416.
var ErrInvalidRange = errors.New("byterange: invalid range")

// Range is a parsed byte range spec. Exactly one of three shapes is
// held: start-end (both set), start- (open end), or -suffix (last N
// bytes, start unset).
type Range struct {
	start, end       uint64
	hasStart, hasEnd bool
}

// Parse parses a range spec of the form "bytes=start-end", "bytes=start-"
// or "bytes=-suffix". The "bytes=" prefix is optional.
func Parse(spec string) (Range, error) {
	var r Range

	spec = strings.TrimPrefix(strings.TrimSpace(spec), "bytes=")
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return r, fmt.Errorf("%w: %q", ErrInvalidRange, spec)
	}

	if first != "" {
		start, err := strconv.ParseUint(first, 10, 64)
		if err != nil {
			return r, fmt.Errorf("%w: %q: %v", ErrInvalidRange, spec, err)
		}
		r.start, r.hasStart = start, true
	}
	if last != "" {
		end, err := strconv.ParseUint(last, 10, 64)
		if err != nil {
			return r, fmt.Errorf("%w: %q: %v", ErrInvalidRange, spec, err)
		}
		r.end, r.hasEnd = end, true
	}

	if !r.hasStart && !r.hasEnd {
		return r, fmt.Errorf("%w: %q", ErrInvalidRange, spec)
	}
	if r.hasStart && r.hasEnd && r.start > r.end {
		return r, fmt.Errorf("%w: start %d after end %d", ErrInvalidRange, r.start, r.end)
	}
	return r, nil
}

// OffsetLength resolves the range against an object of the given
// plaintext size into an absolute offset and length. Ends beyond the
// object are clamped; a start at or beyond the object, a zero-byte
// suffix, or an empty object cannot be satisfied and return
// ErrInvalidRange.
func (r Range) OffsetLength(size uint64) (offset, length uint64, err error) {
	switch {
	case r.hasStart && r.hasEnd:
		if r.start >= size {
			return 0, 0, fmt.Errorf("%w: start %d beyond object of %d bytes", ErrInvalidRange, r.start, size)
		}
		if r.end >= size {
			return r.start, size - r.start, nil
		}
		return r.start, r.end - r.start + 1, nil

	case r.hasStart:
		if r.start >= size {
			return 0, 0, fmt.Errorf("%w: start %d beyond object of %d bytes", ErrInvalidRange, r.start, size)
		}
		return r.start, size - r.start, nil

	default:
		if r.end == 0 || size == 0 {
			return 0, 0, fmt.Errorf("%w: empty suffix range", ErrInvalidRange)
		}
		if r.end >= size {
			return 0, size, nil
		}
		return size - r.end, r.end, nil
	}
}

// BackendRange resolves the range into the inclusive byte span to fetch
// from the backend. For plaintext objects that is the requested span
// itself; for encrypted objects it is the smallest run of whole frames
// covering the span, since frames only decrypt in full.
func (r Range) BackendRange(size uint64, encrypted bool) (start, end uint64, err error) {
	offset, length, err := r.OffsetLength(size)
	if err != nil {
		return 0, 0, err
	}
	if !encrypted {
		return offset, offset + length - 1, nil
	}

	startFrame := offset / dare.MaxPayloadSize
	endFrame := (offset + length - 1) / dare.MaxPayloadSize

	start = startFrame * dare.MaxFrameSize
	end = (endFrame + 1) * dare.MaxFrameSize
	if encSize := dare.EncryptedSize(size); end > encSize {
		end = encSize
	}
	return start, end - 1, nil
}

// FrameAlignedOffset returns the plaintext offset of the frame containing
// the given byte. It seeds the decryption filter's consumed counter when
// a ranged fetch starts mid-stream.
func FrameAlignedOffset(offset uint64) uint64 {
	return (offset / dare.MaxPayloadSize) * dare.MaxPayloadSize
}
