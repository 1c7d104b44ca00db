// Copyright 2025 The lantern Authors
// This file is part of the lantern library.
//
// The lantern library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lantern library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lantern library. If not, see <http://www.gnu.org/licenses/>.

// Package p2p speaks the Bitcoin peer-to-peer protocol: message framing and
// codecs, the per-peer session actor, and the dial scheduler that keeps the
// required number of sessions alive.
package p2p

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
)

// ProtocolVersion is the version this client negotiates. Compact filter
// support requires 70015+; wtxidrelay requires 70016.
const ProtocolVersion = 70016

// Service flag bits advertised in version and addr messages.
const (
	ServiceNetwork        = 1 << 0
	ServiceWitness        = 1 << 3
	ServiceCompactFilters = 1 << 6
	ServiceNetworkLimited = 1 << 10
	ServiceP2PV2          = 1 << 11
)

// Message commands.
const (
	CmdVersion      = "version"
	CmdVerack       = "verack"
	CmdSendAddrV2   = "sendaddrv2"
	CmdWtxidRelay   = "wtxidrelay"
	CmdSendHeaders  = "sendheaders"
	CmdPing         = "ping"
	CmdPong         = "pong"
	CmdGetAddr      = "getaddr"
	CmdAddrV2       = "addrv2"
	CmdGetHeaders   = "getheaders"
	CmdHeaders      = "headers"
	CmdGetCFHeaders = "getcfheaders"
	CmdCFHeaders    = "cfheaders"
	CmdGetCFilters  = "getcfilters"
	CmdCFilter      = "cfilter"
	CmdGetData      = "getdata"
	CmdInv          = "inv"
	CmdNotFound     = "notfound"
	CmdBlock        = "block"
	CmdTx           = "tx"
	CmdReject       = "reject"
	CmdFeeFilter    = "feefilter"
)

const (
	// messageHeaderSize is magic + command + length + checksum.
	messageHeaderSize = 24
	// commandSize is the fixed width of the command field.
	commandSize = 12
	// MaxMessageSize bounds any single message payload.
	MaxMessageSize = 32 * 1024 * 1024
	// maxInvItems is the protocol limit on inventory vectors.
	maxInvItems = 50_000
	// maxAddrV2 is the protocol limit on addrv2 entries.
	maxAddrV2 = 1000
	// maxLocatorHashes is the protocol limit on block locators.
	maxLocatorHashes = 101
	// maxUserAgentLen bounds the version user agent string.
	maxUserAgentLen = 256
)

// Inventory type identifiers for inv/getdata.
const (
	InvTx           = 1
	InvBlock        = 2
	InvWitnessFlag  = 1 << 30
	InvWitnessTx    = InvTx | InvWitnessFlag
	InvWitnessBlock = InvBlock | InvWitnessFlag
)

// GCSFilterBasic is the only filter type of BIP-158 this client requests.
const GCSFilterBasic = byte(0)

var (
	// ErrBadMagic means a frame arrived with the wrong network magic.
	ErrBadMagic = errors.New("p2p: wrong network magic")
	// ErrBadChecksum means a payload failed its frame checksum.
	ErrBadChecksum = errors.New("p2p: payload checksum mismatch")
	// ErrOversizedMessage means a frame declared an excessive length.
	ErrOversizedMessage = errors.New("p2p: oversized message")
	// ErrMalformedMessage wraps payload decode failures.
	ErrMalformedMessage = errors.New("p2p: malformed message")
)

// Message is a single peer-to-peer protocol message.
type Message interface {
	Command() string
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// WriteMessage frames and writes msg with the given network magic.
func WriteMessage(w io.Writer, magic uint32, msg Message) error {
	var payload bytes.Buffer
	if err := msg.Encode(&payload); err != nil {
		return err
	}
	if payload.Len() > MaxMessageSize {
		return ErrOversizedMessage
	}
	var hdr [messageHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magic)
	copy(hdr[4:4+commandSize], msg.Command())
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(payload.Len()))
	sum := common.DoubleHash(payload.Bytes())
	copy(hdr[20:24], sum[:4])
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if payload.Len() == 0 {
		return nil
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// ReadMessage reads one framed message. Unknown commands are returned as
// *MsgUnknown so callers can skip them without desynchronizing the stream.
func ReadMessage(r io.Reader, magic uint32) (Message, error) {
	var hdr [messageHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		return nil, ErrBadMagic
	}
	cmd := string(bytes.TrimRight(hdr[4:4+commandSize], "\x00"))
	length := binary.LittleEndian.Uint32(hdr[16:20])
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %s %d bytes", ErrOversizedMessage, cmd, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	sum := common.DoubleHash(payload)
	if !bytes.Equal(sum[:4], hdr[20:24]) {
		return nil, ErrBadChecksum
	}
	msg := makeEmptyMessage(cmd)
	if msg == nil {
		return &MsgUnknown{Cmd: cmd}, nil
	}
	if err := msg.Decode(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, cmd, err)
	}
	return msg, nil
}

func makeEmptyMessage(cmd string) Message {
	switch cmd {
	case CmdVersion:
		return &MsgVersion{}
	case CmdVerack:
		return &MsgVerack{}
	case CmdSendAddrV2:
		return &MsgSendAddrV2{}
	case CmdWtxidRelay:
		return &MsgWtxidRelay{}
	case CmdSendHeaders:
		return &MsgSendHeaders{}
	case CmdPing:
		return &MsgPing{}
	case CmdPong:
		return &MsgPong{}
	case CmdGetAddr:
		return &MsgGetAddr{}
	case CmdAddrV2:
		return &MsgAddrV2{}
	case CmdGetHeaders:
		return &MsgGetHeaders{}
	case CmdHeaders:
		return &MsgHeaders{}
	case CmdGetCFHeaders:
		return &MsgGetCFHeaders{}
	case CmdCFHeaders:
		return &MsgCFHeaders{}
	case CmdGetCFilters:
		return &MsgGetCFilters{}
	case CmdCFilter:
		return &MsgCFilter{}
	case CmdGetData:
		return &MsgGetData{}
	case CmdInv:
		return &MsgInv{}
	case CmdNotFound:
		return &MsgNotFound{}
	case CmdBlock:
		return &MsgBlock{}
	case CmdTx:
		return &MsgTx{}
	case CmdReject:
		return &MsgReject{}
	case CmdFeeFilter:
		return &MsgFeeFilter{}
	}
	return nil
}

// MsgUnknown stands in for commands this client does not implement.
type MsgUnknown struct{ Cmd string }

func (m *MsgUnknown) Command() string          { return m.Cmd }
func (m *MsgUnknown) Encode(io.Writer) error   { return nil }
func (m *MsgUnknown) Decode(r io.Reader) error { return nil }

// NetAddress is the fixed-width address block inside a version message.
type NetAddress struct {
	Services uint64
	IP       net.IP
	Port     uint16
}

func (a *NetAddress) encode(w io.Writer) error {
	var b [26]byte
	binary.LittleEndian.PutUint64(b[0:8], a.Services)
	ip := a.IP.To16()
	if ip == nil {
		ip = net.IPv6zero
	}
	copy(b[8:24], ip)
	binary.BigEndian.PutUint16(b[24:26], a.Port)
	_, err := w.Write(b[:])
	return err
}

func (a *NetAddress) decode(r io.Reader) error {
	var b [26]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	a.Services = binary.LittleEndian.Uint64(b[0:8])
	a.IP = append(net.IP{}, b[8:24]...)
	a.Port = binary.BigEndian.Uint16(b[24:26])
	return nil
}

// MsgVersion is the handshake opener.
type MsgVersion struct {
	Version     int32
	Services    uint64
	Timestamp   int64
	Receiver    NetAddress
	Sender      NetAddress
	Nonce       uint64
	UserAgent   string
	StartHeight int32
	Relay       bool
}

func (m *MsgVersion) Command() string { return CmdVersion }

func (m *MsgVersion) Encode(w io.Writer) error {
	if err := writeUint32(w, uint32(m.Version)); err != nil {
		return err
	}
	if err := writeUint64(w, m.Services); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(m.Timestamp)); err != nil {
		return err
	}
	if err := m.Receiver.encode(w); err != nil {
		return err
	}
	if err := m.Sender.encode(w); err != nil {
		return err
	}
	if err := writeUint64(w, m.Nonce); err != nil {
		return err
	}
	if err := types.WriteVarBytes(w, []byte(m.UserAgent)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(m.StartHeight)); err != nil {
		return err
	}
	relay := byte(0)
	if m.Relay {
		relay = 1
	}
	_, err := w.Write([]byte{relay})
	return err
}

func (m *MsgVersion) Decode(r io.Reader) error {
	v, err := readUint32(r)
	if err != nil {
		return err
	}
	m.Version = int32(v)
	if m.Services, err = readUint64(r); err != nil {
		return err
	}
	ts, err := readUint64(r)
	if err != nil {
		return err
	}
	m.Timestamp = int64(ts)
	if err := m.Receiver.decode(r); err != nil {
		return err
	}
	if err := m.Sender.decode(r); err != nil {
		return err
	}
	if m.Nonce, err = readUint64(r); err != nil {
		return err
	}
	ua, err := types.ReadVarBytes(r, maxUserAgentLen)
	if err != nil {
		return err
	}
	m.UserAgent = string(ua)
	sh, err := readUint32(r)
	if err != nil {
		return err
	}
	m.StartHeight = int32(sh)
	// The relay flag is optional in old serializations.
	var relay [1]byte
	if _, err := io.ReadFull(r, relay[:]); err == nil {
		m.Relay = relay[0] != 0
	}
	return nil
}

// Empty negotiation messages.
type (
	// MsgVerack acknowledges a version message.
	MsgVerack struct{}
	// MsgSendAddrV2 signals addrv2 support; sent before verack.
	MsgSendAddrV2 struct{}
	// MsgWtxidRelay signals wtxid-based tx relay; sent before verack.
	MsgWtxidRelay struct{}
	// MsgSendHeaders asks the peer to announce tips with headers rather
	// than inv.
	MsgSendHeaders struct{}
	// MsgGetAddr requests address gossip.
	MsgGetAddr struct{}
)

func (m *MsgVerack) Command() string        { return CmdVerack }
func (m *MsgVerack) Encode(io.Writer) error { return nil }
func (m *MsgVerack) Decode(io.Reader) error { return nil }

func (m *MsgSendAddrV2) Command() string        { return CmdSendAddrV2 }
func (m *MsgSendAddrV2) Encode(io.Writer) error { return nil }
func (m *MsgSendAddrV2) Decode(io.Reader) error { return nil }

func (m *MsgWtxidRelay) Command() string        { return CmdWtxidRelay }
func (m *MsgWtxidRelay) Encode(io.Writer) error { return nil }
func (m *MsgWtxidRelay) Decode(io.Reader) error { return nil }

func (m *MsgSendHeaders) Command() string        { return CmdSendHeaders }
func (m *MsgSendHeaders) Encode(io.Writer) error { return nil }
func (m *MsgSendHeaders) Decode(io.Reader) error { return nil }

func (m *MsgGetAddr) Command() string        { return CmdGetAddr }
func (m *MsgGetAddr) Encode(io.Writer) error { return nil }
func (m *MsgGetAddr) Decode(io.Reader) error { return nil }

// MsgPing is a keepalive probe.
type MsgPing struct{ Nonce uint64 }

func (m *MsgPing) Command() string { return CmdPing }
func (m *MsgPing) Encode(w io.Writer) error {
	return writeUint64(w, m.Nonce)
}
func (m *MsgPing) Decode(r io.Reader) error {
	var err error
	m.Nonce, err = readUint64(r)
	return err
}

// MsgPong answers a ping, echoing its nonce.
type MsgPong struct{ Nonce uint64 }

func (m *MsgPong) Command() string { return CmdPong }
func (m *MsgPong) Encode(w io.Writer) error {
	return writeUint64(w, m.Nonce)
}
func (m *MsgPong) Decode(r io.Reader) error {
	var err error
	m.Nonce, err = readUint64(r)
	return err
}

// AddrV2 is one BIP-155 address record. Only IPv4 and IPv6 networks are
// retained; other networks decode to a nil Addr and are skipped upstream.
type AddrV2 struct {
	Time     uint32
	Services uint64
	Addr     net.IP
	Port     uint16
}

// MsgAddrV2 carries BIP-155 address gossip.
type MsgAddrV2 struct{ Addrs []AddrV2 }

func (m *MsgAddrV2) Command() string { return CmdAddrV2 }

func (m *MsgAddrV2) Encode(w io.Writer) error {
	if err := types.WriteVarInt(w, uint64(len(m.Addrs))); err != nil {
		return err
	}
	for _, a := range m.Addrs {
		if err := writeUint32(w, a.Time); err != nil {
			return err
		}
		if err := types.WriteVarInt(w, a.Services); err != nil {
			return err
		}
		networkID, raw := byte(1), a.Addr.To4()
		if raw == nil {
			networkID, raw = 2, a.Addr.To16()
		}
		if _, err := w.Write([]byte{networkID}); err != nil {
			return err
		}
		if err := types.WriteVarBytes(w, raw); err != nil {
			return err
		}
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], a.Port)
		if _, err := w.Write(p[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgAddrV2) Decode(r io.Reader) error {
	count, err := types.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxAddrV2 {
		return fmt.Errorf("too many addresses: %d", count)
	}
	m.Addrs = make([]AddrV2, 0, count)
	for i := uint64(0); i < count; i++ {
		var a AddrV2
		if a.Time, err = readUint32(r); err != nil {
			return err
		}
		if a.Services, err = types.ReadVarInt(r); err != nil {
			return err
		}
		var networkID [1]byte
		if _, err := io.ReadFull(r, networkID[:]); err != nil {
			return err
		}
		raw, err := types.ReadVarBytes(r, 512)
		if err != nil {
			return err
		}
		switch networkID[0] {
		case 1:
			if len(raw) == 4 {
				a.Addr = net.IP(raw)
			}
		case 2:
			if len(raw) == 16 {
				a.Addr = net.IP(raw)
			}
		}
		var p [2]byte
		if _, err := io.ReadFull(r, p[:]); err != nil {
			return err
		}
		a.Port = binary.BigEndian.Uint16(p[:])
		m.Addrs = append(m.Addrs, a)
	}
	return nil
}

// MsgGetHeaders requests headers after the best locator match.
type MsgGetHeaders struct {
	Version  uint32
	Locator  []common.Hash
	StopHash common.Hash
}

func (m *MsgGetHeaders) Command() string { return CmdGetHeaders }

func (m *MsgGetHeaders) Encode(w io.Writer) error {
	if err := writeUint32(w, m.Version); err != nil {
		return err
	}
	if err := types.WriteVarInt(w, uint64(len(m.Locator))); err != nil {
		return err
	}
	for _, h := range m.Locator {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(m.StopHash[:])
	return err
}

func (m *MsgGetHeaders) Decode(r io.Reader) error {
	v, err := readUint32(r)
	if err != nil {
		return err
	}
	m.Version = v
	count, err := types.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxLocatorHashes {
		return fmt.Errorf("too many locator hashes: %d", count)
	}
	m.Locator = make([]common.Hash, count)
	for i := range m.Locator {
		if _, err := io.ReadFull(r, m.Locator[i][:]); err != nil {
			return err
		}
	}
	_, err = io.ReadFull(r, m.StopHash[:])
	return err
}

// MsgHeaders carries up to 2000 headers, each trailed by a zero tx count.
type MsgHeaders struct{ Headers []*types.Header }

func (m *MsgHeaders) Command() string { return CmdHeaders }

func (m *MsgHeaders) Encode(w io.Writer) error {
	if err := types.WriteVarInt(w, uint64(len(m.Headers))); err != nil {
		return err
	}
	for _, h := range m.Headers {
		if err := h.Encode(w); err != nil {
			return err
		}
		if err := types.WriteVarInt(w, 0); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgHeaders) Decode(r io.Reader) error {
	count, err := types.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > 2000 {
		return fmt.Errorf("too many headers: %d", count)
	}
	m.Headers = make([]*types.Header, 0, count)
	for i := uint64(0); i < count; i++ {
		h := new(types.Header)
		if err := h.Decode(r); err != nil {
			return err
		}
		if _, err := types.ReadVarInt(r); err != nil {
			return err
		}
		m.Headers = append(m.Headers, h)
	}
	return nil
}

// MsgGetCFHeaders requests a range of filter headers ending at a stop hash.
type MsgGetCFHeaders struct {
	FilterType  byte
	StartHeight uint32
	StopHash    common.Hash
}

func (m *MsgGetCFHeaders) Command() string { return CmdGetCFHeaders }

func (m *MsgGetCFHeaders) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if err := writeUint32(w, m.StartHeight); err != nil {
		return err
	}
	_, err := w.Write(m.StopHash[:])
	return err
}

func (m *MsgGetCFHeaders) Decode(r io.Reader) error {
	var ft [1]byte
	if _, err := io.ReadFull(r, ft[:]); err != nil {
		return err
	}
	m.FilterType = ft[0]
	var err error
	if m.StartHeight, err = readUint32(r); err != nil {
		return err
	}
	_, err = io.ReadFull(r, m.StopHash[:])
	return err
}

// MsgCFHeaders answers getcfheaders with the previous filter header and the
// filter hashes of the range.
type MsgCFHeaders struct {
	FilterType           byte
	StopHash             common.Hash
	PreviousFilterHeader common.Hash
	FilterHashes         []common.Hash
}

func (m *MsgCFHeaders) Command() string { return CmdCFHeaders }

func (m *MsgCFHeaders) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if _, err := w.Write(m.StopHash[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.PreviousFilterHeader[:]); err != nil {
		return err
	}
	if err := types.WriteVarInt(w, uint64(len(m.FilterHashes))); err != nil {
		return err
	}
	for _, h := range m.FilterHashes {
		if _, err := w.Write(h[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgCFHeaders) Decode(r io.Reader) error {
	var ft [1]byte
	if _, err := io.ReadFull(r, ft[:]); err != nil {
		return err
	}
	m.FilterType = ft[0]
	if _, err := io.ReadFull(r, m.StopHash[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, m.PreviousFilterHeader[:]); err != nil {
		return err
	}
	count, err := types.ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > 2000 {
		return fmt.Errorf("too many filter hashes: %d", count)
	}
	m.FilterHashes = make([]common.Hash, count)
	for i := range m.FilterHashes {
		if _, err := io.ReadFull(r, m.FilterHashes[i][:]); err != nil {
			return err
		}
	}
	return nil
}

// MsgGetCFilters requests the filters of a height range.
type MsgGetCFilters struct {
	FilterType  byte
	StartHeight uint32
	StopHash    common.Hash
}

func (m *MsgGetCFilters) Command() string { return CmdGetCFilters }

func (m *MsgGetCFilters) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if err := writeUint32(w, m.StartHeight); err != nil {
		return err
	}
	_, err := w.Write(m.StopHash[:])
	return err
}

func (m *MsgGetCFilters) Decode(r io.Reader) error {
	var ft [1]byte
	if _, err := io.ReadFull(r, ft[:]); err != nil {
		return err
	}
	m.FilterType = ft[0]
	var err error
	if m.StartHeight, err = readUint32(r); err != nil {
		return err
	}
	_, err = io.ReadFull(r, m.StopHash[:])
	return err
}

// MsgCFilter carries one block's serialized filter.
type MsgCFilter struct {
	FilterType byte
	BlockHash  common.Hash
	Filter     []byte
}

func (m *MsgCFilter) Command() string { return CmdCFilter }

func (m *MsgCFilter) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{m.FilterType}); err != nil {
		return err
	}
	if _, err := w.Write(m.BlockHash[:]); err != nil {
		return err
	}
	return types.WriteVarBytes(w, m.Filter)
}

func (m *MsgCFilter) Decode(r io.Reader) error {
	var ft [1]byte
	if _, err := io.ReadFull(r, ft[:]); err != nil {
		return err
	}
	m.FilterType = ft[0]
	if _, err := io.ReadFull(r, m.BlockHash[:]); err != nil {
		return err
	}
	var err error
	m.Filter, err = types.ReadVarBytes(r, types.MaxVarBytes)
	return err
}

// InvItem is one inventory vector entry.
type InvItem struct {
	Type uint32
	Hash common.Hash
}

func encodeInv(w io.Writer, items []InvItem) error {
	if err := types.WriteVarInt(w, uint64(len(items))); err != nil {
		return err
	}
	for _, item := range items {
		if err := writeUint32(w, item.Type); err != nil {
			return err
		}
		if _, err := w.Write(item.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func decodeInv(r io.Reader) ([]InvItem, error) {
	count, err := types.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > maxInvItems {
		return nil, fmt.Errorf("too many inventory items: %d", count)
	}
	items := make([]InvItem, count)
	for i := range items {
		if items[i].Type, err = readUint32(r); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, items[i].Hash[:]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// MsgInv announces inventory.
type MsgInv struct{ Items []InvItem }

func (m *MsgInv) Command() string          { return CmdInv }
func (m *MsgInv) Encode(w io.Writer) error { return encodeInv(w, m.Items) }
func (m *MsgInv) Decode(r io.Reader) error {
	var err error
	m.Items, err = decodeInv(r)
	return err
}

// MsgGetData requests inventory.
type MsgGetData struct{ Items []InvItem }

func (m *MsgGetData) Command() string          { return CmdGetData }
func (m *MsgGetData) Encode(w io.Writer) error { return encodeInv(w, m.Items) }
func (m *MsgGetData) Decode(r io.Reader) error {
	var err error
	m.Items, err = decodeInv(r)
	return err
}

// MsgNotFound reports unavailable inventory.
type MsgNotFound struct{ Items []InvItem }

func (m *MsgNotFound) Command() string          { return CmdNotFound }
func (m *MsgNotFound) Encode(w io.Writer) error { return encodeInv(w, m.Items) }
func (m *MsgNotFound) Decode(r io.Reader) error {
	var err error
	m.Items, err = decodeInv(r)
	return err
}

// MsgBlock carries a full block.
type MsgBlock struct{ Block *types.Block }

func (m *MsgBlock) Command() string { return CmdBlock }
func (m *MsgBlock) Encode(w io.Writer) error {
	return m.Block.Encode(w)
}
func (m *MsgBlock) Decode(r io.Reader) error {
	m.Block = new(types.Block)
	return m.Block.Decode(r)
}

// MsgTx carries one transaction.
type MsgTx struct{ Tx *types.Transaction }

func (m *MsgTx) Command() string { return CmdTx }
func (m *MsgTx) Encode(w io.Writer) error {
	return m.Tx.Encode(w)
}
func (m *MsgTx) Decode(r io.Reader) error {
	m.Tx = new(types.Transaction)
	return m.Tx.Decode(r)
}

// RejectCode enumerates the reasons in a reject message.
type RejectCode byte

// Reject codes defined by the protocol.
const (
	RejectMalformed       RejectCode = 0x01
	RejectInvalid         RejectCode = 0x10
	RejectObsolete        RejectCode = 0x11
	RejectDuplicate       RejectCode = 0x12
	RejectNonstandard     RejectCode = 0x40
	RejectDust            RejectCode = 0x41
	RejectInsufficientFee RejectCode = 0x42
	RejectCheckpoint      RejectCode = 0x43
)

// String implements fmt.Stringer.
func (c RejectCode) String() string {
	switch c {
	case RejectMalformed:
		return "malformed"
	case RejectInvalid:
		return "invalid"
	case RejectObsolete:
		return "obsolete"
	case RejectDuplicate:
		return "duplicate"
	case RejectNonstandard:
		return "nonstandard"
	case RejectDust:
		return "dust"
	case RejectInsufficientFee:
		return "insufficient fee"
	case RejectCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("unknown(%#02x)", byte(c))
	}
}

// MsgReject reports a rejected message, usually a transaction.
type MsgReject struct {
	Message string
	Code    RejectCode
	Reason  string
	Hash    common.Hash
}

func (m *MsgReject) Command() string { return CmdReject }

func (m *MsgReject) Encode(w io.Writer) error {
	if err := types.WriteVarBytes(w, []byte(m.Message)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(m.Code)}); err != nil {
		return err
	}
	if err := types.WriteVarBytes(w, []byte(m.Reason)); err != nil {
		return err
	}
	if m.Message == CmdTx || m.Message == CmdBlock {
		if _, err := w.Write(m.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgReject) Decode(r io.Reader) error {
	msg, err := types.ReadVarBytes(r, commandSize)
	if err != nil {
		return err
	}
	m.Message = string(msg)
	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return err
	}
	m.Code = RejectCode(code[0])
	reason, err := types.ReadVarBytes(r, maxUserAgentLen)
	if err != nil {
		return err
	}
	m.Reason = string(reason)
	if m.Message == CmdTx || m.Message == CmdBlock {
		if _, err := io.ReadFull(r, m.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

// MsgFeeFilter advertises the minimum feerate, in sat/kvB, the peer will
// relay.
type MsgFeeFilter struct{ FeeRate int64 }

func (m *MsgFeeFilter) Command() string { return CmdFeeFilter }
func (m *MsgFeeFilter) Encode(w io.Writer) error {
	return writeUint64(w, uint64(m.FeeRate))
}
func (m *MsgFeeFilter) Decode(r io.Reader) error {
	v, err := readUint64(r)
	m.FeeRate = int64(v)
	return err
}

// Shared little-endian helpers.
func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}
