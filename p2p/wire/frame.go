package wire

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/alpha-project/alphad/params"
)

// FrameHeaderSize is the 24-byte wire envelope preceding every payload
// (spec §4.4, §6.1): magic(4) || command(12) || payload_length(4) || checksum(4).
const FrameHeaderSize = 4 + 12 + 4 + 4

var (
	ErrBadMagic      = errors.New("alpha: bad-magic")
	ErrOversizedMsg  = errors.New("alpha: oversized-message")
	ErrBadChecksum   = errors.New("alpha: bad-checksum")
	ErrCommandTooLong = errors.New("alpha: command exceeds 12 bytes")
)

// Frame is a decoded message envelope plus its raw payload bytes.
type Frame struct {
	Command string
	Payload []byte
}

func checksum4(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var c [4]byte
	copy(c[:], second[:4])
	return c
}

// WriteFrame serializes command+payload with the 24-byte envelope and
// writes it to w (spec §4.4 "Send path").
func WriteFrame(w io.Writer, magic [4]byte, command string, payload []byte) error {
	if len(command) > 12 {
		return ErrCommandTooLong
	}
	if len(payload) > params.MaxProtocolMessageLength {
		return ErrOversizedMsg
	}
	var header [FrameHeaderSize]byte
	copy(header[0:4], magic[:])
	copy(header[4:16], command) // remaining bytes stay null-padded
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload)))
	sum := checksum4(payload)
	copy(header[20:24], sum[:])

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one framed message from r, validating magic, length and
// checksum per spec §4.4: a magic mismatch or oversized length causes an
// immediate disconnect-worthy error (the caller maps these to peer
// misbehavior, spec §4.4 penalty table).
func ReadFrame(r io.Reader, expectedMagic [4]byte) (*Frame, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	var magic [4]byte
	copy(magic[:], header[0:4])
	if magic != expectedMagic {
		return nil, ErrBadMagic
	}
	command := commandFromBytes(header[4:16])
	length := binary.LittleEndian.Uint32(header[16:20])
	if length > params.MaxProtocolMessageLength {
		return nil, ErrOversizedMsg
	}
	var wantChecksum [4]byte
	copy(wantChecksum[:], header[20:24])

	payload, err := readPayloadIncremental(r, int(length))
	if err != nil {
		return nil, err
	}
	if checksum4(payload) != wantChecksum {
		return nil, ErrBadChecksum
	}
	return &Frame{Command: command, Payload: payload}, nil
}

// readPayloadIncremental reads exactly n bytes, growing the destination
// buffer in MAX_VECTOR_ALLOCATE-sized steps, with the first allocation
// capped at one such step (spec §6.1; n is already capped by
// MaxProtocolMessageLength above, which is below one step, so the backing
// array is allocated at exactly n bytes and the loop runs once; the same
// discipline is applied uniformly for defense in depth).
//
// Once the read completes, the payload is copied into an exactly-sized
// array whenever the spare capacity exceeds params.MinCompactionBytes, so an
// oversized backing array is not pinned for the remaining lifetime of the
// connection.
func readPayloadIncremental(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, 0, allocateIncremental(uint64(n), 1))
	remaining := n
	for remaining > 0 {
		chunk := remaining
		if chunk > vectorAllocateChunk {
			chunk = vectorAllocateChunk
		}
		start := len(buf)
		buf = append(buf, make([]byte, chunk)...)
		if _, err := io.ReadFull(r, buf[start:start+chunk]); err != nil {
			return nil, err
		}
		remaining -= chunk
	}
	if cap(buf)-len(buf) > params.MinCompactionBytes {
		compacted := make([]byte, len(buf))
		copy(compacted, buf)
		buf = compacted
	}
	return buf, nil
}

func commandFromBytes(b []byte) string {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	return string(b[:end])
}
