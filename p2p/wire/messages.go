package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alpha-project/alphad/core/types"
	"github.com/alpha-project/alphad/params"
)

// Command names (spec §4.4 "Supported messages").
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdAddr       = "addr"
	CmdGetAddr    = "getaddr"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdNotFound   = "notfound"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
)

var ErrTrailingBytes = errors.New("alpha: unexpected trailing bytes")

// NetAddress is a peer network address as embedded in VersionMsg (spec §6.1).
type NetAddress struct {
	Services uint64
	IP       [16]byte
	Port     uint16
}

func (a *NetAddress) encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, a.Services); err != nil {
		return err
	}
	if _, err := w.Write(a.IP[:]); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, a.Port)
}

func decodeNetAddress(r io.Reader) (NetAddress, error) {
	var a NetAddress
	if err := binary.Read(r, binary.LittleEndian, &a.Services); err != nil {
		return a, err
	}
	if _, err := io.ReadFull(r, a.IP[:]); err != nil {
		return a, err
	}
	if err := binary.Read(r, binary.LittleEndian, &a.Port); err != nil {
		return a, err
	}
	return a, nil
}

// TimestampedAddress is one entry of an `addr` message (spec §6.1, 34 bytes).
type TimestampedAddress struct {
	Timestamp uint32
	Addr      NetAddress
}

// VersionMsg is the handshake's opening message (spec §4.4, §6.1).
type VersionMsg struct {
	Version     int32
	Services    uint64
	Timestamp   int64
	AddrRecv    NetAddress
	AddrFrom    NetAddress
	Nonce       uint64
	UserAgent   string
	StartHeight int32
}

func (m *VersionMsg) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, m.Version)
	binary.Write(&buf, binary.LittleEndian, m.Services)
	binary.Write(&buf, binary.LittleEndian, m.Timestamp)
	m.AddrRecv.encode(&buf)
	m.AddrFrom.encode(&buf)
	binary.Write(&buf, binary.LittleEndian, m.Nonce)
	writeVarStr(&buf, m.UserAgent)
	binary.Write(&buf, binary.LittleEndian, m.StartHeight)
	return buf.Bytes()
}

func DecodeVersionMsg(payload []byte) (*VersionMsg, error) {
	r := bytes.NewReader(payload)
	m := &VersionMsg{}
	if err := binary.Read(r, binary.LittleEndian, &m.Version); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Services); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Timestamp); err != nil {
		return nil, err
	}
	var err error
	if m.AddrRecv, err = decodeNetAddress(r); err != nil {
		return nil, err
	}
	if m.AddrFrom, err = decodeNetAddress(r); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return nil, err
	}
	if m.UserAgent, err = readVarStr(r, 256); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.StartHeight); err != nil {
		return nil, err
	}
	return m, nil
}

func writeVarStr(w io.Writer, s string) {
	WriteCompactSize(w, uint64(len(s)))
	io.WriteString(w, s)
}

func readVarStr(r io.Reader, maxLen int) (string, error) {
	n, err := ReadCompactSize(r)
	if err != nil {
		return "", err
	}
	if int(n) > maxLen {
		n = uint64(maxLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// PingMsg / PongMsg carry a liveness nonce (spec §4.4, §6.1).
type PingMsg struct{ Nonce uint64 }
type PongMsg struct{ Nonce uint64 }

func (m *PingMsg) Encode() []byte { return encodeNonce(m.Nonce) }
func (m *PongMsg) Encode() []byte { return encodeNonce(m.Nonce) }

func encodeNonce(nonce uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], nonce)
	return buf[:]
}

// DecodePingMsg tolerates trailing bytes (lenient, spec §4.4/§6.1).
func DecodePingMsg(payload []byte) (*PingMsg, error) {
	if len(payload) < 8 {
		return nil, io.ErrUnexpectedEOF
	}
	return &PingMsg{Nonce: binary.LittleEndian.Uint64(payload[:8])}, nil
}

// DecodePongMsg tolerates trailing bytes (lenient, spec §4.4/§6.1).
func DecodePongMsg(payload []byte) (*PongMsg, error) {
	if len(payload) < 8 {
		return nil, io.ErrUnexpectedEOF
	}
	return &PongMsg{Nonce: binary.LittleEndian.Uint64(payload[:8])}, nil
}

// DecodeVerAckStrict requires exactly zero payload bytes (spec §4.4/§6.1).
func DecodeVerAckStrict(payload []byte) error {
	if len(payload) != 0 {
		return ErrTrailingBytes
	}
	return nil
}

// InvType identifies the kind of an inventory vector. This chain carries no
// block bodies, so "block" and "header" name the same underlying object
// (spec §4.5 "Block-announcement relay").
type InvType uint32

const InvTypeBlock InvType = 1

// InventoryVector is one 36-byte entry of inv/getdata/notfound (spec §6.1).
type InventoryVector struct {
	Type InvType
	Hash common.Hash
}

func encodeInvVectors(invs []InventoryVector, maxLen int) ([]byte, error) {
	if len(invs) > maxLen {
		return nil, fmt.Errorf("alpha: %d inventory vectors exceeds limit %d", len(invs), maxLen)
	}
	var buf bytes.Buffer
	WriteCompactSize(&buf, uint64(len(invs)))
	for _, iv := range invs {
		binary.Write(&buf, binary.LittleEndian, uint32(iv.Type))
		buf.Write(iv.Hash[:])
	}
	return buf.Bytes(), nil
}

func decodeInvVectors(payload []byte, maxLen int) ([]InventoryVector, error) {
	r := bytes.NewReader(payload)
	count, err := ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	if int(count) > maxLen {
		return nil, fmt.Errorf("alpha: %d inventory vectors exceeds limit %d", count, maxLen)
	}
	out := make([]InventoryVector, 0, allocateIncremental(count, 36))
	for i := uint64(0); i < count; i++ {
		var typ uint32
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, err
		}
		var h common.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return nil, err
		}
		out = append(out, InventoryVector{Type: InvType(typ), Hash: h})
	}
	return out, nil
}

// EncodeInv / DecodeInv implement spec §6.1 `inv` (also used for getdata,
// notfound, which share the same wire shape).
func EncodeInv(invs []InventoryVector) ([]byte, error) {
	return encodeInvVectors(invs, params.MaxInvSize)
}
func DecodeInv(payload []byte) ([]InventoryVector, error) {
	return decodeInvVectors(payload, params.MaxInvSize)
}

// AddrMsg is spec §6.1's `addr`: count || TimestampedAddress[count].
type AddrMsg struct{ Addrs []TimestampedAddress }

func (m *AddrMsg) Encode() ([]byte, error) {
	if len(m.Addrs) > params.MaxAddrSize {
		return nil, fmt.Errorf("alpha: %d addrs exceeds limit %d", len(m.Addrs), params.MaxAddrSize)
	}
	var buf bytes.Buffer
	WriteCompactSize(&buf, uint64(len(m.Addrs)))
	for _, a := range m.Addrs {
		binary.Write(&buf, binary.LittleEndian, a.Timestamp)
		a.Addr.encode(&buf)
	}
	return buf.Bytes(), nil
}

func DecodeAddrMsg(payload []byte) (*AddrMsg, error) {
	r := bytes.NewReader(payload)
	count, err := ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	if int(count) > params.MaxAddrSize {
		return nil, fmt.Errorf("alpha: %d addrs exceeds limit %d", count, params.MaxAddrSize)
	}
	out := make([]TimestampedAddress, 0, allocateIncremental(count, 34))
	for i := uint64(0); i < count; i++ {
		var ts uint32
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return nil, err
		}
		addr, err := decodeNetAddress(r)
		if err != nil {
			return nil, err
		}
		out = append(out, TimestampedAddress{Timestamp: ts, Addr: addr})
	}
	return &AddrMsg{Addrs: out}, nil
}

// GetHeadersMsg is spec §6.1's `getheaders`: a block locator plus a stop hash.
type GetHeadersMsg struct {
	Version  uint32
	Locator  []common.Hash
	HashStop common.Hash
}

func (m *GetHeadersMsg) Encode() ([]byte, error) {
	if len(m.Locator) > params.MaxLocatorSize {
		return nil, fmt.Errorf("alpha: oversized-locator: %d entries", len(m.Locator))
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, m.Version)
	WriteCompactSize(&buf, uint64(len(m.Locator)))
	for _, h := range m.Locator {
		buf.Write(h[:])
	}
	buf.Write(m.HashStop[:])
	return buf.Bytes(), nil
}

func DecodeGetHeadersMsg(payload []byte) (*GetHeadersMsg, error) {
	r := bytes.NewReader(payload)
	m := &GetHeadersMsg{}
	if err := binary.Read(r, binary.LittleEndian, &m.Version); err != nil {
		return nil, err
	}
	count, err := ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	if int(count) > params.MaxLocatorSize {
		return nil, fmt.Errorf("alpha: oversized-locator: %d entries", count)
	}
	m.Locator = make([]common.Hash, 0, allocateIncremental(count, 32))
	for i := uint64(0); i < count; i++ {
		var h common.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return nil, err
		}
		m.Locator = append(m.Locator, h)
	}
	if _, err := io.ReadFull(r, m.HashStop[:]); err != nil {
		return nil, err
	}
	return m, nil
}

// HeadersMsg is spec §6.1's `headers`: count || Header[count], no trailing
// transaction count (the one deliberate divergence from Bitcoin's layout).
type HeadersMsg struct{ Headers []*types.Header }

func (m *HeadersMsg) Encode() ([]byte, error) {
	if len(m.Headers) > params.MaxHeadersSize {
		return nil, fmt.Errorf("alpha: %d headers exceeds limit %d", len(m.Headers), params.MaxHeadersSize)
	}
	var buf bytes.Buffer
	WriteCompactSize(&buf, uint64(len(m.Headers)))
	for _, h := range m.Headers {
		buf.Write(h.Bytes())
	}
	return buf.Bytes(), nil
}

func DecodeHeadersMsg(payload []byte) (*HeadersMsg, error) {
	r := bytes.NewReader(payload)
	count, err := ReadCompactSize(r)
	if err != nil {
		return nil, err
	}
	if int(count) > params.MaxHeadersSize {
		return nil, fmt.Errorf("alpha: %d headers exceeds limit %d", count, params.MaxHeadersSize)
	}
	headers := make([]*types.Header, 0, allocateIncremental(count, params.HeaderSize))
	buf := make([]byte, params.HeaderSize)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		h, err := types.DecodeHeader(buf)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return &HeadersMsg{Headers: headers}, nil
}
