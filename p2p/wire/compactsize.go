// Package wire implements the Alpha wire protocol (spec §6.1): message
// framing, CompactSize encoding, and the payload codecs for every supported
// command.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxSize bounds any CompactSize-prefixed vector length (spec §6.1).
const MaxSize = 32_000_000

// vectorAllocateChunk is the incremental allocation batch size deserializers
// must use instead of trusting a claimed count outright (spec §6.1
// "MAX_VECTOR_ALLOCATE"; a claimed count never triggers a matching upfront
// allocation).
const vectorAllocateChunk = 5_000_000

var ErrCompactSizeTooLarge = errors.New("alpha: compactsize exceeds MAX_SIZE")

// WriteCompactSize writes n in Bitcoin-style CompactSize encoding.
func WriteCompactSize(w io.Writer, n uint64) error {
	var buf [9]byte
	switch {
	case n < 0xfd:
		buf[0] = byte(n)
		_, err := w.Write(buf[:1])
		return err
	case n <= 0xffff:
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:3], uint16(n))
		_, err := w.Write(buf[:3])
		return err
	case n <= 0xffffffff:
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:5], uint32(n))
		_, err := w.Write(buf[:5])
		return err
	default:
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:9], n)
		_, err := w.Write(buf[:9])
		return err
	}
}

// ReadCompactSize reads a CompactSize-encoded length, enforcing MaxSize.
func ReadCompactSize(r io.Reader) (uint64, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	var n uint64
	switch b[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n = uint64(binary.LittleEndian.Uint16(buf[:]))
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n = uint64(binary.LittleEndian.Uint32(buf[:]))
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		n = binary.LittleEndian.Uint64(buf[:])
	default:
		n = uint64(b[0])
	}
	if n > MaxSize {
		return 0, ErrCompactSizeTooLarge
	}
	return n, nil
}

// allocateIncremental returns a safe initial capacity for a vector claiming
// count elements of elemSize bytes each: never more than one allocation
// chunk ahead of what has actually been read (spec §6.1).
func allocateIncremental(count uint64, elemSize int) int {
	maxElems := uint64(vectorAllocateChunk) / uint64(elemSize)
	if maxElems == 0 {
		maxElems = 1
	}
	if count > maxElems {
		return int(maxElems)
	}
	return int(count)
}
