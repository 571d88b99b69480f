package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func sampleHeader() *Header {
	return &Header{
		Version:      1,
		PrevHash:     common.HexToHash("0xaa"),
		MinerAddress: [20]byte{1, 2, 3},
		Time:         1700000000,
		Bits:         0x1d00ffff,
		Nonce:        42,
		RandomXHash:  common.HexToHash("0xbb"),
	}
}

func TestHeaderBytesRoundTrip(t *testing.T) {
	h := sampleHeader()
	buf := h.Bytes()
	require.Len(t, buf, 100)

	decoded, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}

func TestDecodeHeaderRejectsWrongLength(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 99))
	require.ErrorIs(t, err, ErrShortHeader)
}

func TestBytesWithRandomXHashZeroed(t *testing.T) {
	h := sampleHeader()
	buf := h.BytesWithRandomXHashZeroed()
	require.Equal(t, make([]byte, 32), buf[68:100])
	// The rest of the encoding is untouched.
	require.Equal(t, h.Bytes()[:68], buf[:68])
}

func TestHeaderHashIsDeterministic(t *testing.T) {
	h := sampleHeader()
	require.Equal(t, h.Hash(), h.Copy().Hash())

	h2 := h.Copy()
	h2.Nonce++
	require.NotEqual(t, h.Hash(), h2.Hash())
}

func TestEpochIndex(t *testing.T) {
	h := &Header{Time: 1000}
	require.Equal(t, int64(10), h.EpochIndex(100))
	require.Equal(t, int64(0), h.EpochIndex(10000))
}
