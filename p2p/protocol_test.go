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

package p2p

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/params"
)

const testMagic = 0xdab5bffa // regtest

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testMagic, msg))
	decoded, err := ReadMessage(&buf, testMagic)
	require.NoError(t, err)
	require.Equal(t, msg.Command(), decoded.Command())
	return decoded
}

func TestVersionRoundTrip(t *testing.T) {
	in := &MsgVersion{
		Version:   ProtocolVersion,
		Services:  ServiceNetwork | ServiceCompactFilters,
		Timestamp: 1700000000,
		Receiver: NetAddress{
			Services: ServiceCompactFilters,
			IP:       net.ParseIP("203.0.113.7"),
			Port:     8333,
		},
		Nonce:       0xdeadbeef,
		UserAgent:   "/lantern:0.1.0/",
		StartHeight: 840000,
		Relay:       true,
	}
	out := roundTrip(t, in).(*MsgVersion)
	require.Equal(t, in.Services, out.Services)
	require.Equal(t, in.UserAgent, out.UserAgent)
	require.Equal(t, in.StartHeight, out.StartHeight)
	require.Equal(t, in.Receiver.Port, out.Receiver.Port)
	require.True(t, out.Relay)
}

func TestHeadersRoundTrip(t *testing.T) {
	hdr := &types.Header{Version: 1, Bits: 0x207fffff, Nonce: 7}
	out := roundTrip(t, &MsgHeaders{Headers: []*types.Header{hdr}}).(*MsgHeaders)
	require.Len(t, out.Headers, 1)
	require.Equal(t, hdr.Hash(), out.Headers[0].Hash())
}

func TestGetHeadersRoundTrip(t *testing.T) {
	in := &MsgGetHeaders{
		Version: ProtocolVersion,
		Locator: []common.Hash{
			common.BytesToHash([]byte{1}),
			common.BytesToHash([]byte{2}),
		},
		StopHash: common.BytesToHash([]byte{3}),
	}
	out := roundTrip(t, in).(*MsgGetHeaders)
	require.Equal(t, in.Locator, out.Locator)
	require.Equal(t, in.StopHash, out.StopHash)
}

func TestCFHeadersRoundTrip(t *testing.T) {
	in := &MsgCFHeaders{
		FilterType:           GCSFilterBasic,
		StopHash:             common.BytesToHash([]byte{9}),
		PreviousFilterHeader: common.BytesToHash([]byte{8}),
		FilterHashes:         []common.Hash{common.BytesToHash([]byte{7})},
	}
	out := roundTrip(t, in).(*MsgCFHeaders)
	require.Equal(t, in.PreviousFilterHeader, out.PreviousFilterHeader)
	require.Equal(t, in.FilterHashes, out.FilterHashes)
}

func TestCFilterRoundTrip(t *testing.T) {
	in := &MsgCFilter{
		FilterType: GCSFilterBasic,
		BlockHash:  common.BytesToHash([]byte{5}),
		Filter:     []byte{0x01, 0x02, 0x03},
	}
	out := roundTrip(t, in).(*MsgCFilter)
	require.Equal(t, in.Filter, out.Filter)
}

func TestInvGetDataRoundTrip(t *testing.T) {
	items := []InvItem{{Type: InvWitnessBlock, Hash: common.BytesToHash([]byte{1})}}
	require.Equal(t, items, roundTrip(t, &MsgInv{Items: items}).(*MsgInv).Items)
	require.Equal(t, items, roundTrip(t, &MsgGetData{Items: items}).(*MsgGetData).Items)
}

func TestAddrV2RoundTrip(t *testing.T) {
	in := &MsgAddrV2{Addrs: []AddrV2{
		{Time: 1700000000, Services: ServiceCompactFilters, Addr: net.ParseIP("192.0.2.1").To4(), Port: 8333},
		{Time: 1700000001, Services: ServiceNetwork, Addr: net.ParseIP("2001:db8::1"), Port: 18444},
	}}
	out := roundTrip(t, in).(*MsgAddrV2)
	require.Len(t, out.Addrs, 2)
	require.True(t, out.Addrs[0].Addr.Equal(in.Addrs[0].Addr))
	require.True(t, out.Addrs[1].Addr.Equal(in.Addrs[1].Addr))
	require.Equal(t, in.Addrs[0].Services, out.Addrs[0].Services)
}

func TestRejectRoundTrip(t *testing.T) {
	in := &MsgReject{
		Message: CmdTx,
		Code:    RejectInsufficientFee,
		Reason:  "min relay fee not met",
		Hash:    common.BytesToHash([]byte{0xaa}),
	}
	out := roundTrip(t, in).(*MsgReject)
	require.Equal(t, in.Code, out.Code)
	require.Equal(t, in.Hash, out.Hash)
	require.Equal(t, in.Reason, out.Reason)
}

func TestReadMessageBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testMagic, &MsgPing{Nonce: 1}))
	_, err := ReadMessage(&buf, params.MainnetParams().Magic)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestReadMessageBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testMagic, &MsgPing{Nonce: 1}))
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff // corrupt the payload
	_, err := ReadMessage(bytes.NewReader(raw), testMagic)
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestReadMessageUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testMagic, &MsgUnknown{Cmd: "cmpctblock"}))
	msg, err := ReadMessage(&buf, testMagic)
	require.NoError(t, err)
	unknown, ok := msg.(*MsgUnknown)
	require.True(t, ok)
	require.Equal(t, "cmpctblock", unknown.Cmd)
}

func TestOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testMagic, &MsgPing{Nonce: 1}))
	raw := buf.Bytes()
	raw[16], raw[17], raw[18], raw[19] = 0xff, 0xff, 0xff, 0xff
	_, err := ReadMessage(bytes.NewReader(raw), testMagic)
	require.ErrorIs(t, err, ErrOversizedMessage)
}
