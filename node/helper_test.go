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

package node

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/gcs"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db/memorydb"
	"github.com/lantern-btc/lantern/p2p"
	"github.com/lantern-btc/lantern/params"
)

// miner is an in-process regtest node: it mines blocks, computes the
// BIP-157 commitments for them, and serves the wire protocol over pipes
// handed out by its dialer.
type miner struct {
	t   *testing.T
	cfg *params.Params

	mu            sync.Mutex
	headers       []*types.Header // index i is height i+1
	heightOf      map[common.Hash]uint32
	blocks        map[common.Hash]*types.Block
	filters       map[common.Hash][]byte
	filterHeaders []common.Hash // index is height; genesis is zero

	conns []*servedConn
}

type servedConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *servedConn) send(magic uint32, msg p2p.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p2p.WriteMessage(c.conn, magic, msg)
}

func newMiner(t *testing.T) *miner {
	return &miner{
		t:             t,
		cfg:           params.RegtestParams(),
		heightOf:      make(map[common.Hash]uint32),
		blocks:        make(map[common.Hash]*types.Block),
		filters:       make(map[common.Hash][]byte),
		filterHeaders: []common.Hash{{}},
	}
}

func (m *miner) tipHash() common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.headers) == 0 {
		return m.cfg.GenesisHash
	}
	return m.headers[len(m.headers)-1].Hash()
}

func (m *miner) height() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.headers))
}

// mine appends n blocks, each with a single transaction paying script.
func (m *miner) mine(n int, script []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		height := uint32(len(m.headers)) + 1
		prev := m.cfg.GenesisHash
		if len(m.headers) > 0 {
			prev = m.headers[len(m.headers)-1].Hash()
		}
		tx := &types.Transaction{
			Version: 2,
			Inputs: []*types.TxIn{{
				PreviousOutPoint: types.OutPoint{Index: 0xffffffff},
				SignatureScript:  []byte{byte(height), byte(height >> 8), byte(len(m.filterHeaders))},
				Sequence:         0xffffffff,
			}},
			Outputs: []*types.TxOut{{Value: 50_0000_0000, PkScript: script}},
		}
		var hdr *types.Header
		for nonce := uint32(0); ; nonce++ {
			candidate := &types.Header{
				Version:    0x20000000,
				PrevBlock:  prev,
				MerkleRoot: tx.TxID(),
				Timestamp:  1700000000 + height,
				Bits:       0x207fffff,
				Nonce:      nonce,
			}
			if candidate.MeetsTarget() {
				hdr = candidate
				break
			}
		}
		hash := hdr.Hash()
		m.headers = append(m.headers, hdr)
		m.heightOf[hash] = height
		m.blocks[hash] = &types.Block{Header: *hdr, Transactions: []*types.Transaction{tx}}

		filter, err := gcs.Build(gcs.KeyFromBlockHash(hash), [][]byte{script})
		require.NoError(m.t, err)
		raw := filter.Bytes()
		m.filters[hash] = raw
		m.filterHeaders = append(m.filterHeaders,
			foldHashes(common.DoubleHash(raw), m.filterHeaders[height-1]))
	}
}

func foldHashes(filterHash, prev common.Hash) common.Hash {
	var concat [2 * common.HashLength]byte
	copy(concat[:common.HashLength], filterHash[:])
	copy(concat[common.HashLength:], prev[:])
	return common.DoubleHash(concat[:])
}

// invalidate drops the top n blocks, as invalidateblock would.
func (m *miner) invalidate(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n && len(m.headers) > 0; i++ {
		last := m.headers[len(m.headers)-1]
		hash := last.Hash()
		delete(m.heightOf, hash)
		delete(m.blocks, hash)
		delete(m.filters, hash)
		m.headers = m.headers[:len(m.headers)-1]
		m.filterHeaders = m.filterHeaders[:len(m.filterHeaders)-1]
	}
}

// announce pushes a block inv for the current tip to every live session.
func (m *miner) announce() {
	m.mu.Lock()
	tip := m.headers[len(m.headers)-1].Hash()
	conns := append([]*servedConn{}, m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		c.send(m.cfg.Magic, &p2p.MsgInv{Items: []p2p.InvItem{{Type: p2p.InvBlock, Hash: tip}}})
	}
}

// Dialer hands the node a fresh pipe per dial, served by this miner.
func (m *miner) Dialer() p2p.Dialer { return minerDialer{m} }

type minerDialer struct{ m *miner }

func (d minerDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	client, server := net.Pipe()
	go d.m.serve(server)
	return client, nil
}

// serve speaks the protocol on one connection until it drops.
func (m *miner) serve(conn net.Conn) {
	defer conn.Close()
	magic := m.cfg.Magic
	sc := &servedConn{conn: conn}

	// Handshake: the connecting node opens with its version.
	if _, err := p2p.ReadMessage(conn, magic); err != nil {
		return
	}
	if err := sc.send(magic, &p2p.MsgVersion{
		Version:     p2p.ProtocolVersion,
		Services:    p2p.ServiceNetwork | p2p.ServiceWitness | p2p.ServiceCompactFilters,
		Timestamp:   time.Now().Unix(),
		UserAgent:   "/miner-harness/",
		StartHeight: int32(m.height()),
	}); err != nil {
		return
	}
	for {
		msg, err := p2p.ReadMessage(conn, magic)
		if err != nil {
			return
		}
		if _, ok := msg.(*p2p.MsgVerack); ok {
			break
		}
	}
	if err := sc.send(magic, &p2p.MsgVerack{}); err != nil {
		return
	}
	// bitcoind advertises its relay floor right after the handshake.
	if err := sc.send(magic, &p2p.MsgFeeFilter{FeeRate: 1000}); err != nil {
		return
	}

	m.mu.Lock()
	m.conns = append(m.conns, sc)
	m.mu.Unlock()

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		msg, err := p2p.ReadMessage(conn, magic)
		if err != nil {
			return
		}
		if err := m.answer(sc, msg); err != nil {
			return
		}
	}
}

func (m *miner) answer(sc *servedConn, msg p2p.Message) error {
	magic := m.cfg.Magic
	switch req := msg.(type) {
	case *p2p.MsgPing:
		return sc.send(magic, &p2p.MsgPong{Nonce: req.Nonce})
	case *p2p.MsgGetHeaders:
		return sc.send(magic, &p2p.MsgHeaders{Headers: m.headersAfter(req.Locator)})
	case *p2p.MsgGetCFHeaders:
		m.mu.Lock()
		stop, ok := m.heightOf[req.StopHash]
		if !ok || req.StartHeight == 0 || req.StartHeight > stop {
			m.mu.Unlock()
			return nil
		}
		reply := &p2p.MsgCFHeaders{
			FilterType:           req.FilterType,
			StopHash:             req.StopHash,
			PreviousFilterHeader: m.filterHeaders[req.StartHeight-1],
		}
		for h := req.StartHeight; h <= stop; h++ {
			raw := m.filters[m.headers[h-1].Hash()]
			reply.FilterHashes = append(reply.FilterHashes, common.DoubleHash(raw))
		}
		m.mu.Unlock()
		return sc.send(magic, reply)
	case *p2p.MsgGetCFilters:
		m.mu.Lock()
		stop, ok := m.heightOf[req.StopHash]
		if !ok || req.StartHeight == 0 || req.StartHeight > stop {
			m.mu.Unlock()
			return nil
		}
		var replies []*p2p.MsgCFilter
		for h := req.StartHeight; h <= stop; h++ {
			hash := m.headers[h-1].Hash()
			replies = append(replies, &p2p.MsgCFilter{
				FilterType: req.FilterType,
				BlockHash:  hash,
				Filter:     m.filters[hash],
			})
		}
		m.mu.Unlock()
		for _, reply := range replies {
			if err := sc.send(magic, reply); err != nil {
				return err
			}
		}
		return nil
	case *p2p.MsgGetData:
		for _, item := range req.Items {
			if item.Type&^p2p.InvWitnessFlag != p2p.InvBlock {
				continue
			}
			m.mu.Lock()
			block := m.blocks[item.Hash]
			m.mu.Unlock()
			if block == nil {
				continue
			}
			if err := sc.send(magic, &p2p.MsgBlock{Block: block}); err != nil {
				return err
			}
		}
		return nil
	default:
		// getaddr, sendheaders and anything else need no reply.
		return nil
	}
}

// headersAfter returns the headers above the best locator match, as a
// serving node would.
func (m *miner) headersAfter(locator []common.Hash) []*types.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := uint32(0)
	for _, loc := range locator {
		if h, ok := m.heightOf[loc]; ok {
			start = h
			break
		}
		if loc == m.cfg.GenesisHash {
			break
		}
	}
	out := make([]*types.Header, 0, len(m.headers))
	for h := start + 1; h <= uint32(len(m.headers)); h++ {
		out = append(out, m.headers[h-1])
	}
	return out
}

// startNode builds and runs a node wired to the miner, returning the
// client and a stop function.
func startNode(t *testing.T, m *miner, opts func(*Builder)) (*Client, func()) {
	t.Helper()
	builder := NewBuilder(params.Regtest).
		AddPeer(p2p.TrustedPeer{Addr: "127.0.0.1", Port: 18444}).
		Dialer(m.Dialer()).
		WithStores(memorydb.NewHeaderStore(), memorydb.NewPeerStore(0))
	if opts != nil {
		opts(builder)
	}
	n, client, err := builder.Build()
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Run(context.Background())
	}()
	stop := func() {
		client.Requester.Shutdown()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("node did not stop")
		}
	}
	return client, stop
}

// waitSynced consumes events until a Synced arrives, returning any
// disconnect events seen on the way.
func waitSynced(t *testing.T, client *Client) ([]EventBlocksDisconnected, []EventBlock, EventSynced) {
	t.Helper()
	var (
		disconnects []EventBlocksDisconnected
		blocks      []EventBlock
	)
	deadline := time.After(30 * time.Second)
	for {
		select {
		case ev, ok := <-client.Events():
			require.True(t, ok, "event stream closed before sync")
			switch e := ev.(type) {
			case EventBlocksDisconnected:
				disconnects = append(disconnects, e)
			case EventBlock:
				blocks = append(blocks, e)
			case EventSynced:
				return disconnects, blocks, e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for sync; events so far:\n%s%s",
				spew.Sdump(disconnects), spew.Sdump(blocks))
		}
	}
}
