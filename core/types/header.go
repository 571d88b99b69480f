// Package types defines the wire header and in-memory block-index record
// that the rest of the Alpha node operates on (spec §3).
package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alpha-project/alphad/params"
)

// ErrShortHeader is returned when a header buffer is not exactly
// params.HeaderSize bytes.
var ErrShortHeader = errors.New("alpha: header must be exactly 100 bytes")

// Header is the fixed-width, 100-byte-on-the-wire block header (spec §3).
type Header struct {
	Version      uint32
	PrevHash     common.Hash
	MinerAddress [20]byte
	Time         uint32
	Bits         uint32
	Nonce        uint32
	RandomXHash  common.Hash
}

// Bytes serializes the header into its canonical 100-byte wire form.
func (h *Header) Bytes() []byte {
	buf := make([]byte, params.HeaderSize)
	h.encodeInto(buf)
	return buf
}

// BytesWithRandomXHashZeroed serializes the header but with the
// randomx_hash field zeroed, the exact input the COMMITMENT_ONLY and FULL
// PoW checks hash over (spec §4.2).
func (h *Header) BytesWithRandomXHashZeroed() []byte {
	buf := make([]byte, params.HeaderSize)
	h.encodeInto(buf)
	copy(buf[68:100], make([]byte, 32))
	return buf
}

func (h *Header) encodeInto(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:56], h.MinerAddress[:])
	binary.LittleEndian.PutUint32(buf[56:60], h.Time)
	binary.LittleEndian.PutUint32(buf[60:64], h.Bits)
	binary.LittleEndian.PutUint32(buf[64:68], h.Nonce)
	copy(buf[68:100], h.RandomXHash[:])
}

// DecodeHeader deserializes a 100-byte buffer into a Header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) != params.HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(buf))
	}
	h := &Header{
		Version: binary.LittleEndian.Uint32(buf[0:4]),
		Time:    binary.LittleEndian.Uint32(buf[56:60]),
		Bits:    binary.LittleEndian.Uint32(buf[60:64]),
		Nonce:   binary.LittleEndian.Uint32(buf[64:68]),
	}
	copy(h.PrevHash[:], buf[4:36])
	copy(h.MinerAddress[:], buf[36:56])
	copy(h.RandomXHash[:], buf[68:100])
	return h, nil
}

// Hash returns the header's identity: the double-SHA-256 of its full
// 100-byte wire form (spec §3).
func (h *Header) Hash() common.Hash {
	return params.DoubleSHA256(h.Bytes())
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	cp := *h
	return &cp
}

// EpochIndex returns the RandomX epoch index this header's timestamp falls
// into, given the network's epoch duration (spec §4.2).
func (h *Header) EpochIndex(epochDuration int64) int64 {
	return int64(h.Time) / epochDuration
}
