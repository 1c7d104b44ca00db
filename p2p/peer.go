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
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/db"
	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/params"
)

// Session errors. Every terminal session reports exactly one of these (or a
// raw I/O error) to the node.
var (
	// ErrMissingService means the remote does not serve compact filters.
	ErrMissingService = errors.New("p2p: peer does not serve compact filters")
	// ErrPeerTimedOut means an outstanding request passed its deadline.
	ErrPeerTimedOut = errors.New("p2p: peer timed out")
	// ErrUnsolicitedMessage means the peer answered a request that was
	// never made.
	ErrUnsolicitedMessage = errors.New("p2p: unsolicited message")
	// ErrPeerBanned means the peer exhausted its misbehavior budget.
	ErrPeerBanned = errors.New("p2p: peer banned for misbehavior")
	// ErrSessionClosed means the session was closed locally.
	ErrSessionClosed = errors.New("p2p: session closed")
	// ErrRequestInFlight means a request of the same kind is already
	// outstanding.
	ErrRequestInFlight = errors.New("p2p: request already in flight")
)

// Misbehavior penalties subtracted from the session score. A session starts
// at startScore and is banned at zero.
const (
	startScore = 100

	penaltyTimeout     = 25
	penaltyUnsolicited = 30
	penaltyMalformed   = 50
	penaltyBadData     = 100 // header PoW or filter linkage failure
)

// Request deadlines.
const (
	handshakeTimeout = 10 * time.Second
	headersDeadline  = 10 * time.Second
	blockDeadline    = 20 * time.Second
	pingInterval     = 2 * time.Minute
	writeTimeout     = 30 * time.Second
	drainGrace       = 2 * time.Second
)

// PeerState is the lifecycle phase of a session.
type PeerState int32

// Session lifecycle states.
const (
	StateDialing PeerState = iota
	StateHandshaking
	StateReady
	StateDraining
	StateDead
)

// String implements fmt.Stringer.
func (s PeerState) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Config carries the immutable inputs of every session.
type Config struct {
	Params    *params.Params
	UserAgent string
	// Services are the flags we advertise (none; the client serves
	// nothing).
	Services uint64
	// RequiredServices must all be present in the remote's version
	// message.
	RequiredServices uint64
	// StartHeight is our chain height at handshake time.
	StartHeight func() int32
}

// Inbound pairs a decoded message with its originating session for the
// node's single consumption channel.
type Inbound struct {
	Peer *Peer
	Msg  Message
}

// request tracks one outstanding request of a given response kind.
type request struct {
	deadline  time.Time
	remaining int // responses expected before the request completes
}

// Peer is a single peer session. Reads and writes run as separate
// goroutines; everything the node needs to know arrives on the shared
// inbound channel or through the terminal error of Run.
type Peer struct {
	id     uint64
	record db.PeerRecord
	cfg    *Config
	conn   net.Conn
	lg     log.Logger

	inbound chan<- Inbound
	outQ    chan Message

	state atomic.Int32
	score atomic.Int32

	mu       sync.Mutex
	requests map[string]*request

	remote     atomic.Pointer[MsgVersion]
	feeRate    atomic.Int64
	lastPong   atomic.Int64
	pingNonce  atomic.Uint64
	quit       chan struct{}
	closeOnce  sync.Once
	closeErr   error
	bestHeight atomic.Int32
}

var peerIDs atomic.Uint64

// NewPeer wraps an established connection in a session. Run must be called
// to start the actor.
func NewPeer(conn net.Conn, record db.PeerRecord, cfg *Config, inbound chan<- Inbound, lg log.Logger) *Peer {
	p := &Peer{
		id:       peerIDs.Add(1),
		record:   record,
		cfg:      cfg,
		conn:     conn,
		inbound:  inbound,
		outQ:     make(chan Message, 64),
		requests: make(map[string]*request),
		quit:     make(chan struct{}),
	}
	p.lg = lg.New("peer", p.id, "addr", record.Addr)
	p.score.Store(startScore)
	p.state.Store(int32(StateHandshaking))
	return p
}

// ID returns the session identifier, unique per process.
func (p *Peer) ID() uint64 { return p.id }

// Record returns the address book record the session was dialed from.
func (p *Peer) Record() db.PeerRecord { return p.record }

// State returns the current lifecycle state.
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// Ready reports whether the session finished its handshake and is
// serviceable.
func (p *Peer) Ready() bool { return p.State() == StateReady }

// Score returns the remaining misbehavior budget.
func (p *Peer) Score() int32 { return p.score.Load() }

// Services returns the remote's advertised service flags, zero before the
// handshake completes.
func (p *Peer) Services() uint64 {
	if v := p.remote.Load(); v != nil {
		return v.Services
	}
	return 0
}

// BestHeight returns the chain height the remote advertised at handshake.
func (p *Peer) BestHeight() int32 { return p.bestHeight.Load() }

// FeeRate returns the remote's advertised minimum relay feerate in
// sat/kvB.
func (p *Peer) FeeRate() int64 { return p.feeRate.Load() }

// Run drives the session to completion: handshake, then concurrent read,
// write and keepalive loops. The returned error is the terminal reason.
func (p *Peer) Run(ctx context.Context) error {
	defer func() {
		p.state.Store(int32(StateDead))
		p.conn.Close()
	}()

	if err := p.handshake(); err != nil {
		p.lg.Debug("Handshake failed", "err", err)
		return err
	}
	p.state.Store(int32(StateReady))
	p.lg.Info("Peer connected", "services", fmt.Sprintf("%#x", p.Services()), "height", p.BestHeight())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.readLoop(ctx) })
	g.Go(func() error { return p.writeLoop(ctx) })
	g.Go(func() error { return p.keepaliveLoop(ctx) })
	g.Go(func() error {
		// Unblock the read loop when any sibling exits or the node
		// shuts down.
		select {
		case <-ctx.Done():
		case <-p.quit:
		}
		time.AfterFunc(drainGrace, func() { p.conn.Close() })
		return nil
	})
	err := g.Wait()
	if p.closeErr != nil {
		err = p.closeErr
	}
	p.lg.Debug("Peer disconnected", "err", err)
	return err
}

// Close transitions the session to draining and tears the connection down
// after pending writes get a short grace period.
func (p *Peer) Close(reason error) {
	p.closeOnce.Do(func() {
		p.closeErr = reason
		p.state.Store(int32(StateDraining))
		close(p.quit)
		// Let the write loop flush briefly before the socket drops.
		time.AfterFunc(drainGrace, func() { p.conn.Close() })
	})
}

// handshake performs the version exchange and enforces required services.
func (p *Peer) handshake() error {
	deadline := time.Now().Add(handshakeTimeout)
	p.conn.SetDeadline(deadline)
	defer p.conn.SetDeadline(time.Time{})

	nonce, err := randomNonce()
	if err != nil {
		return err
	}
	local := &MsgVersion{
		Version:   ProtocolVersion,
		Services:  p.cfg.Services,
		Timestamp: time.Now().Unix(),
		Receiver: NetAddress{
			Services: p.record.Services,
			IP:       net.ParseIP(p.record.Addr),
			Port:     p.record.Port,
		},
		Nonce:       nonce,
		UserAgent:   p.cfg.UserAgent,
		StartHeight: p.cfg.StartHeight(),
	}
	if err := WriteMessage(p.conn, p.cfg.Params.Magic, local); err != nil {
		return err
	}

	var (
		gotVersion bool
		gotVerack  bool
	)
	for !gotVersion || !gotVerack {
		msg, err := ReadMessage(p.conn, p.cfg.Params.Magic)
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *MsgVersion:
			if gotVersion {
				return fmt.Errorf("%w: duplicate version", ErrMalformedMessage)
			}
			gotVersion = true
			if m.Services&p.cfg.RequiredServices != p.cfg.RequiredServices {
				return fmt.Errorf("%w: advertised %#x", ErrMissingService, m.Services)
			}
			p.remote.Store(m)
			p.bestHeight.Store(m.StartHeight)
			// Feature negotiation happens between version and verack.
			if err := WriteMessage(p.conn, p.cfg.Params.Magic, &MsgSendAddrV2{}); err != nil {
				return err
			}
			if m.Version >= ProtocolVersion {
				if err := WriteMessage(p.conn, p.cfg.Params.Magic, &MsgWtxidRelay{}); err != nil {
					return err
				}
			}
			if err := WriteMessage(p.conn, p.cfg.Params.Magic, &MsgVerack{}); err != nil {
				return err
			}
		case *MsgVerack:
			gotVerack = true
		case *MsgSendAddrV2, *MsgWtxidRelay, *MsgSendHeaders, *MsgUnknown:
			// Negotiation signals we tolerate in either order.
		case *MsgPing:
			if err := WriteMessage(p.conn, p.cfg.Params.Magic, &MsgPong{Nonce: m.Nonce}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s during handshake", ErrUnsolicitedMessage, msg.Command())
		}
	}
	// Prefer header announcements over inv going forward.
	return WriteMessage(p.conn, p.cfg.Params.Magic, &MsgSendHeaders{})
}

func (p *Peer) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return ErrSessionClosed
		default:
		}
		msg, err := ReadMessage(p.conn, p.cfg.Params.Magic)
		if err != nil {
			if errors.Is(err, ErrMalformedMessage) {
				p.Misbehave(penaltyMalformed, err)
				continue
			}
			return err
		}
		if err := p.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

// dispatch correlates replies with outstanding requests and forwards
// node-relevant messages to the shared inbound channel.
func (p *Peer) dispatch(ctx context.Context, msg Message) error {
	switch m := msg.(type) {
	case *MsgPing:
		p.enqueue(&MsgPong{Nonce: m.Nonce})
		return nil
	case *MsgPong:
		if m.Nonce == p.pingNonce.Load() {
			p.lastPong.Store(time.Now().Unix())
		}
		return nil
	case *MsgFeeFilter:
		p.feeRate.Store(m.FeeRate)
		return nil
	case *MsgUnknown:
		p.lg.Trace("Ignoring message", "command", m.Cmd)
		return nil
	case *MsgHeaders, *MsgCFHeaders, *MsgCFilter, *MsgBlock:
		// Unsolicited header announcements of up to a handful of
		// headers are normal tip gossip when sendheaders is active;
		// everything else must match an outstanding request.
		if hm, ok := msg.(*MsgHeaders); ok && len(hm.Headers) <= 2 && !p.expecting(CmdHeaders) {
			break
		}
		if !p.completeRequest(responseKind(msg)) {
			p.Misbehave(penaltyUnsolicited, fmt.Errorf("%w: %s", ErrUnsolicitedMessage, msg.Command()))
			return nil
		}
	}
	select {
	case p.inbound <- Inbound{Peer: p, Msg: msg}:
		return nil
	case <-p.quit:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func responseKind(msg Message) string {
	switch msg.(type) {
	case *MsgHeaders:
		return CmdHeaders
	case *MsgCFHeaders:
		return CmdCFHeaders
	case *MsgCFilter:
		return CmdCFilter
	case *MsgBlock:
		return CmdBlock
	default:
		return ""
	}
}

func (p *Peer) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-p.outQ:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := WriteMessage(p.conn, p.cfg.Params.Magic, msg); err != nil {
				return err
			}
		case <-p.quit:
			// Flush whatever is already queued within the grace
			// period, then stop.
			for {
				select {
				case msg := <-p.outQ:
					p.conn.SetWriteDeadline(time.Now().Add(drainGrace))
					if err := WriteMessage(p.conn, p.cfg.Params.Magic, msg); err != nil {
						return ErrSessionClosed
					}
				default:
					return ErrSessionClosed
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Peer) keepaliveLoop(ctx context.Context) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	expiry := time.NewTicker(time.Second)
	defer expiry.Stop()
	for {
		select {
		case <-ping.C:
			nonce, err := randomNonce()
			if err != nil {
				return err
			}
			p.pingNonce.Store(nonce)
			p.enqueue(&MsgPing{Nonce: nonce})
		case <-expiry.C:
			if p.expiredRequest() {
				p.Misbehave(penaltyTimeout, ErrPeerTimedOut)
				return ErrPeerTimedOut
			}
		case <-p.quit:
			return ErrSessionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// enqueue queues a message for the write loop, dropping it if the session
// is going away.
func (p *Peer) enqueue(msg Message) {
	select {
	case p.outQ <- msg:
	case <-p.quit:
	}
}

// Send queues an arbitrary message with no reply tracking.
func (p *Peer) Send(msg Message) { p.enqueue(msg) }

// track registers an expectation for count responses of the given kind.
func (p *Peer) track(kind string, count int, deadline time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.requests[kind]; busy {
		return ErrRequestInFlight
	}
	p.requests[kind] = &request{deadline: time.Now().Add(deadline), remaining: count}
	return nil
}

// expecting reports whether a request of the kind is outstanding.
func (p *Peer) expecting(kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.requests[kind]
	return ok
}

// completeRequest consumes one expected response, clearing the expectation
// once the count is exhausted. It returns false for unsolicited responses.
func (p *Peer) completeRequest(kind string) bool {
	if kind == "" {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[kind]
	if !ok {
		return false
	}
	req.remaining--
	if req.remaining <= 0 {
		delete(p.requests, kind)
	}
	return true
}

// CancelRequest clears an outstanding expectation, e.g. when the node
// abandons a dispatch after a reorg.
func (p *Peer) CancelRequest(kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.requests, kind)
}

func (p *Peer) expiredRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, req := range p.requests {
		if now.After(req.deadline) {
			return true
		}
	}
	return false
}

// Misbehave subtracts penalty from the session score. When the score is
// exhausted the session closes with ErrPeerBanned, which the dial
// scheduler translates into a ban.
func (p *Peer) Misbehave(penalty int32, reason error) {
	remaining := p.score.Add(-penalty)
	p.lg.Warn("Peer misbehaved", "penalty", penalty, "score", remaining, "reason", reason)
	if remaining <= 0 {
		p.Close(ErrPeerBanned)
	}
}

// RequestHeaders sends getheaders with the given locator.
func (p *Peer) RequestHeaders(locator []common.Hash, stop common.Hash) error {
	if err := p.track(CmdHeaders, 1, headersDeadline); err != nil {
		return err
	}
	p.enqueue(&MsgGetHeaders{Version: ProtocolVersion, Locator: locator, StopHash: stop})
	return nil
}

// RequestFilterHeaders sends getcfheaders for [startHeight, stopHash].
func (p *Peer) RequestFilterHeaders(startHeight uint32, stopHash common.Hash) error {
	if err := p.track(CmdCFHeaders, 1, headersDeadline); err != nil {
		return err
	}
	p.enqueue(&MsgGetCFHeaders{FilterType: GCSFilterBasic, StartHeight: startHeight, StopHash: stopHash})
	return nil
}

// RequestFilters sends getcfilters for a range expecting count cfilter
// replies.
func (p *Peer) RequestFilters(startHeight uint32, stopHash common.Hash, count int) error {
	if err := p.track(CmdCFilter, count, blockDeadline); err != nil {
		return err
	}
	p.enqueue(&MsgGetCFilters{FilterType: GCSFilterBasic, StartHeight: startHeight, StopHash: stopHash})
	return nil
}

// RequestBlock sends getdata for one block.
func (p *Peer) RequestBlock(hash common.Hash) error {
	if err := p.track(CmdBlock, 1, blockDeadline); err != nil {
		return err
	}
	p.enqueue(&MsgGetData{Items: []InvItem{{Type: InvWitnessBlock, Hash: hash}}})
	return nil
}

// AnnounceTransaction advertises a transaction with inv. The peer pulls it
// with getdata, which the node answers through SendTransaction.
func (p *Peer) AnnounceTransaction(wtxid common.Hash, witness bool) {
	invType := uint32(InvTx)
	if witness {
		invType = InvWitnessTx
	}
	p.enqueue(&MsgInv{Items: []InvItem{{Type: invType, Hash: wtxid}}})
}

func randomNonce() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
