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

// Package node ties the engines together: the global sync state machine,
// the dial maintenance loop, and the channel fabric callers interact with.
package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db"
	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/p2p"
	"github.com/lantern-btc/lantern/params"
)

const (
	// tickInterval paces the state machine between message arrivals.
	tickInterval = 250 * time.Millisecond

	// commitInterval bounds how long appended headers stay unpersisted.
	commitInterval = 5 * time.Second

	// redialDelay spaces dial attempts after the sources are exhausted.
	redialDelay = 5 * time.Second
)

// pendingTx is a transaction staged for relay.
type pendingTx struct {
	tx       *types.Transaction
	txid     common.Hash
	wtxid    common.Hash
	sent     bool
	policy   TxPolicy
	announce int // peers the inv went to
}

// peerHandle pairs a session with its cancel function.
type peerHandle struct {
	peer   *p2p.Peer
	cancel context.CancelFunc
}

// peerExit reports a terminated session to the node loop.
type peerExit struct {
	peer *p2p.Peer
	err  error
}

// Node owns the header chain, the filter chain, the dial scheduler and all
// peer sessions. All shared state is confined to the node task; peers and
// callers communicate with it exclusively through channels. Run drives it
// to completion.
type Node struct {
	cfg *Config
	lg  log.Logger

	hc  *core.HeaderChain
	fc  *core.FilterChain
	mgr *p2p.Manager

	headerStore db.HeaderStore
	peerStore   db.PeerStore
	closeStores func() error

	inbound  chan p2p.Inbound
	commands chan any
	exits    chan peerExit
	dialed   chan *p2p.Peer

	peers     map[uint64]*peerHandle
	caughtUp  mapset.Set[uint64] // peers with no headers beyond our tip
	announcer uint64             // peer that most recently announced a new tip

	state        atomic.Int32
	connectedMet bool

	// One outstanding request per kind across the pool; ownership is the
	// session id.
	hdrOwner   uint64
	cfhOwner   uint64
	cfhStart   uint32
	cfilOwner  uint64
	cfilStop   uint32
	blockOwner uint64
	blockReq   struct {
		height uint32
		hash   common.Hash
	}
	rr int // round-robin cursor over ready peers

	pendingTxs map[common.Hash]*pendingTx // keyed by txid and wtxid

	events *queue[Event]
	infos  *queue[Info]
	warns  *queue[Warning]
	logs   *logFeed

	running  atomic.Bool
	quit     chan struct{}
	quitOnce func()
	dialing  int
}

// Run executes the node until Shutdown is called or the context is
// canceled; discarding every Client handle does not stop it. It is the
// only goroutine that mutates node state.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	n.running.Store(true)

	n.lg.Info("Starting node", "network", n.cfg.chain.Name, "height", n.hc.Height(), "scripts", n.fc.ScriptCount())
	n.dialog(fmt.Sprintf("starting node on %s at height %d", n.cfg.chain.Name, n.hc.Height()))
	// The zero state already is Behind; announce it explicitly so
	// subscribers observe the full progression.
	n.infos.push(InfoStateChange{State: StateBehind})
	n.dialog(fmt.Sprintf("state: %s", StateBehind))

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	commit := time.NewTicker(commitInterval)
	defer commit.Stop()

	for {
		n.maintainConnections(ctx)
		select {
		case in := <-n.inbound:
			n.handleMessage(ctx, in)
		case cmd := <-n.commands:
			if stop := n.handleCommand(ctx, cmd); stop {
				return n.shutdown(ctx)
			}
		case exit := <-n.exits:
			n.handlePeerExit(ctx, exit)
		case peer := <-n.dialed:
			n.registerPeer(ctx, peer)
		case <-tick.C:
			n.advance(ctx)
		case <-commit.C:
			n.commit(ctx)
		case <-ctx.Done():
			return n.shutdown(context.Background())
		}
	}
}

// dialog publishes a free-form log line to subscribers and the package
// logger.
func (n *Node) dialog(s string) {
	n.logs.send(s)
	n.lg.Debug(s)
}

func (n *Node) warn(kind WarningKind, detail string) {
	n.warns.push(Warning{Kind: kind, Detail: detail})
}

func (n *Node) curState() NodeState { return NodeState(n.state.Load()) }

func (n *Node) setState(s NodeState) {
	if n.curState() == s {
		return
	}
	n.state.Store(int32(s))
	n.infos.push(InfoStateChange{State: s})
	n.dialog(fmt.Sprintf("state: %s", s))
}

// readyPeers returns the sessions past their handshake, ordered by id so
// round-robin dispatch is stable.
func (n *Node) readyPeers() []*p2p.Peer {
	out := make([]*p2p.Peer, 0, len(n.peers))
	for _, h := range n.peers {
		if h.peer.Ready() {
			out = append(out, h.peer)
		}
	}
	slices.SortFunc(out, func(a, b *p2p.Peer) int { return int(a.ID()) - int(b.ID()) })
	return out
}

// nextReadyPeer round-robins across ready sessions for bulk dispatch
// fairness.
func (n *Node) nextReadyPeer() *p2p.Peer {
	ready := n.readyPeers()
	if len(ready) == 0 {
		return nil
	}
	n.rr++
	return ready[n.rr%len(ready)]
}

// peerByID resolves a ready session by id.
func (n *Node) peerByID(id uint64) *p2p.Peer {
	if h, ok := n.peers[id]; ok && h.peer.Ready() {
		return h.peer
	}
	return nil
}

// maintainConnections tops the session pool up to the required count.
func (n *Node) maintainConnections(ctx context.Context) {
	deficit := n.cfg.requiredPeers - len(n.peers) - n.dialing
	for i := 0; i < deficit; i++ {
		n.dialing++
		go n.dialOne(ctx)
	}
}

// dialOne runs off the node task: it selects a target, dials it, and hands
// the established session back through the dialed channel.
func (n *Node) dialOne(ctx context.Context) {
	target, err := n.mgr.NextTarget(ctx)
	if err != nil {
		if errors.Is(err, p2p.ErrEmptyPeerDatabase) {
			n.warn(WarnEmptyPeerDatabase, "")
		}
		n.warn(WarnNotEnoughConnections, "")
		select {
		case <-time.After(redialDelay):
		case <-ctx.Done():
		}
		n.finishDial(nil)
		return
	}
	conn, err := n.mgr.Connect(ctx, target)
	if err != nil {
		n.mgr.Downscore(ctx, target)
		n.warn(WarnCouldNotConnect, err.Error())
		n.finishDial(nil)
		return
	}
	peer := p2p.NewPeer(conn, target, n.cfg.peerConfig, n.inbound, n.lg)
	n.finishDial(peer)
}

// finishDial reports a dial outcome back to the node loop.
func (n *Node) finishDial(peer *p2p.Peer) {
	if peer == nil {
		select {
		case n.dialed <- nil:
		case <-n.quit:
		}
		return
	}
	select {
	case n.dialed <- peer:
	case <-n.quit:
		peer.Close(p2p.ErrSessionClosed)
	}
}

// registerPeer starts a delivered session and tracks its lifetime.
func (n *Node) registerPeer(ctx context.Context, peer *p2p.Peer) {
	n.dialing--
	if peer == nil {
		return
	}
	pctx, cancel := context.WithCancel(ctx)
	n.peers[peer.ID()] = &peerHandle{peer: peer, cancel: cancel}
	peer.Send(&p2p.MsgGetAddr{})
	go func() {
		err := peer.Run(pctx)
		select {
		case n.exits <- peerExit{peer: peer, err: err}:
		case <-n.quit:
		}
	}()
	if !n.connectedMet && len(n.peers) >= n.cfg.requiredPeers {
		n.connectedMet = true
		n.infos.push(InfoConnectionsMet{})
		n.dialog("all required connections met")
	}
}

// handlePeerExit releases a dead session, adjusts the address book, and
// clears any dispatch owned by the session.
func (n *Node) handlePeerExit(ctx context.Context, exit peerExit) {
	peer, err := exit.peer, exit.err
	if h, ok := n.peers[peer.ID()]; ok {
		h.cancel()
		delete(n.peers, peer.ID())
	}
	n.caughtUp.Remove(peer.ID())
	n.releaseDispatches(peer.ID())

	rec := peer.Record()
	switch {
	case errors.Is(err, p2p.ErrPeerBanned):
		n.mgr.Ban(ctx, rec)
		n.warn(WarnUnexpectedSyncError, fmt.Sprintf("peer %d banned", peer.ID()))
	case errors.Is(err, p2p.ErrPeerTimedOut):
		n.mgr.Downscore(ctx, rec)
		n.warn(WarnPeerTimedOut, rec.Addr)
	case errors.Is(err, p2p.ErrMissingService):
		// Not worth redialing; remember the peer as useless for us.
		n.mgr.Ban(ctx, rec)
		n.warn(WarnCouldNotConnect, fmt.Sprintf("%s lacks compact filters", rec.Addr))
	case errors.Is(err, p2p.ErrSessionClosed):
		n.mgr.RecordSuccess(ctx, rec, peer.Services())
	default:
		n.mgr.Downscore(ctx, rec)
		n.warn(WarnCouldNotConnect, rec.Addr)
	}
	if len(n.peers) < n.cfg.requiredPeers {
		n.connectedMet = false
		n.warn(WarnNotEnoughConnections, "")
	}
}

// releaseDispatches clears outstanding request ownership when a session
// dies so the next tick can re-dispatch elsewhere.
func (n *Node) releaseDispatches(id uint64) {
	if n.hdrOwner == id {
		n.hdrOwner = 0
	}
	if n.cfhOwner == id {
		n.cfhOwner = 0
	}
	if n.cfilOwner == id {
		n.cfilOwner = 0
	}
	if n.blockOwner == id {
		n.blockOwner = 0
	}
}

// advance is one turn of the global state machine: dispatch whatever the
// current phase is missing.
func (n *Node) advance(ctx context.Context) {
	switch n.curState() {
	case StateBehind:
		n.dispatchHeaders()
	case StateHeadersSynced:
		if n.fc.HeadersSynced() {
			n.setState(StateFilterHeadersSynced)
			n.advance(ctx)
			return
		}
		n.dispatchFilterHeaders()
	case StateFilterHeadersSynced:
		if n.fc.FiltersSynced() {
			n.setState(StateFiltersSynced)
			n.advance(ctx)
			return
		}
		n.dispatchFilters()
	case StateFiltersSynced:
		if n.blockOwner == 0 && n.fc.PendingMatches() == 0 {
			n.commit(ctx)
			n.setState(StateTransactionsSynced)
			tip := n.hc.Tip()
			n.events.push(EventSynced{Update: core.SyncUpdate{
				Tip:           tip,
				RecentHistory: n.hc.RecentHistory(),
			}})
			n.dialog(fmt.Sprintf("synced to tip %d %s", tip.Height, tip.Hash))
			return
		}
		n.dispatchBlocks()
	case StateTransactionsSynced:
		// Stay put; header announcements move the machine back.
	}
}

// dispatchHeaders asks for more headers. Peers that already answered with
// nothing new are skipped; when every ready peer is caught up the phase
// completes.
func (n *Node) dispatchHeaders() {
	if n.hdrOwner != 0 {
		return
	}
	ready := n.readyPeers()
	if len(ready) == 0 {
		return
	}
	if n.caughtUpCount() >= len(ready) {
		n.setState(StateHeadersSynced)
		return
	}
	// Prefer the peer that announced a new tip; it is the one that can
	// actually extend us during reorg arbitration.
	var chosen *p2p.Peer
	if n.announcer != 0 {
		chosen = n.peerByID(n.announcer)
	}
	if chosen == nil {
		for range ready {
			peer := n.nextReadyPeer()
			if peer != nil && !n.caughtUp.Contains(peer.ID()) {
				chosen = peer
				break
			}
		}
	}
	if chosen == nil {
		return
	}
	if err := chosen.RequestHeaders(n.hc.Locator(), common.Hash{}); err == nil {
		n.hdrOwner = chosen.ID()
	}
}

// caughtUpCount counts ready peers marked caught up.
func (n *Node) caughtUpCount() int {
	count := 0
	for _, p := range n.readyPeers() {
		if n.caughtUp.Contains(p.ID()) {
			count++
		}
	}
	return count
}

func (n *Node) dispatchFilterHeaders() {
	if n.cfhOwner != 0 {
		return
	}
	start, stopHash, ok := n.fc.NextFilterHeaderRange()
	if !ok {
		return
	}
	peer := n.nextReadyPeer()
	if peer == nil {
		return
	}
	if err := peer.RequestFilterHeaders(start, stopHash); err == nil {
		n.cfhOwner = peer.ID()
		n.cfhStart = start
	}
}

func (n *Node) dispatchFilters() {
	if n.cfilOwner != 0 {
		return
	}
	start, stopHash, ok := n.fc.NextFilterRange()
	if !ok {
		return
	}
	stop, ok := n.hc.HeightOf(stopHash)
	if !ok || stop < start {
		return
	}
	count := int(stop - start + 1)
	peer := n.nextReadyPeer()
	if peer == nil {
		return
	}
	if err := peer.RequestFilters(start, stopHash, count); err == nil {
		n.cfilOwner = peer.ID()
		n.cfilStop = stop
	}
}

func (n *Node) dispatchBlocks() {
	if n.blockOwner != 0 {
		return
	}
	height, ok := n.fc.PopMatched()
	if !ok {
		return
	}
	hash, ok := n.hc.HashAt(height)
	if !ok {
		// The match was orphaned by a reorg between queue and dispatch.
		return
	}
	peer := n.nextReadyPeer()
	if peer == nil {
		n.fc.RequeueMatch(height)
		return
	}
	if err := peer.RequestBlock(hash); err == nil {
		n.blockOwner = peer.ID()
		n.blockReq.height = height
		n.blockReq.hash = hash
	}
}

// handleMessage routes a peer message to the right engine.
func (n *Node) handleMessage(ctx context.Context, in p2p.Inbound) {
	switch msg := in.Msg.(type) {
	case *p2p.MsgHeaders:
		n.handleHeaders(ctx, in.Peer, msg)
	case *p2p.MsgCFHeaders:
		n.handleFilterHeaders(in.Peer, msg)
	case *p2p.MsgCFilter:
		n.handleFilter(in.Peer, msg)
	case *p2p.MsgBlock:
		n.handleBlock(in.Peer, msg)
	case *p2p.MsgInv:
		n.handleInv(in.Peer, msg)
	case *p2p.MsgAddrV2:
		n.mgr.AddGossip(ctx, msg.Addrs)
	case *p2p.MsgGetData:
		n.handleGetData(in.Peer, msg)
	case *p2p.MsgReject:
		n.handleReject(msg)
	case *p2p.MsgNotFound:
		if n.blockOwner == in.Peer.ID() {
			in.Peer.Misbehave(40, errors.New("served headers but not blocks"))
			n.blockOwner = 0
			n.requeueBlock()
		}
	}
}

func (n *Node) handleHeaders(ctx context.Context, peer *p2p.Peer, msg *p2p.MsgHeaders) {
	if n.hdrOwner == peer.ID() {
		n.hdrOwner = 0
	}
	if len(msg.Headers) == 0 {
		n.caughtUp.Add(peer.ID())
		if peer.ID() == n.announcer {
			n.announcer = 0
		}
		return
	}
	res := n.hc.Ingest(ctx, msg.Headers)
	switch res.Status {
	case core.StatusExtended:
		if res.Extended == 0 {
			n.caughtUp.Add(peer.ID())
			return
		}
		n.caughtUp.Clear()
		n.infos.push(InfoProgress{State: StateBehind, Completed: n.hc.Height(), Tip: uint32(peer.BestHeight())})
		n.dialog(fmt.Sprintf("extended chain to %d", n.hc.Height()))
		if n.curState() != StateBehind {
			// New blocks arrived mid filter sync. Restart the filter
			// phases conservatively.
			n.fc.RestartHeaders()
			n.abortFilterDispatches()
			n.setState(StateBehind)
		}
		if len(msg.Headers) == core.MaxHeadersPerBatch {
			// The peer has more; keep pulling.
			n.dispatchHeaders()
		}
	case core.StatusFork:
		n.warn(WarnEvaluatingFork, fmt.Sprintf("root %d", res.ForkRoot))
	case core.StatusReorged:
		n.events.push(EventBlocksDisconnected{Headers: res.Disconnected})
		n.fc.Rollback(res.ForkRoot)
		n.abortFilterDispatches()
		n.caughtUp.Clear()
		if err := n.hc.Commit(ctx); err != nil {
			n.warn(WarnFailedPersistence, err.Error())
		}
		n.setState(StateBehind)
	case core.StatusRejected:
		n.handleRejectedHeaders(peer, res.Reason)
	}
}

// handleRejectedHeaders translates a rejection reason into peer scoring.
func (n *Node) handleRejectedHeaders(peer *p2p.Peer, reason error) {
	switch {
	case errors.Is(reason, core.ErrInvalidPoW), errors.Is(reason, core.ErrBadDifficulty):
		peer.Misbehave(100, reason)
		n.warn(WarnUnexpectedSyncError, reason.Error())
	case errors.Is(reason, core.ErrForkTooDeep):
		peer.Misbehave(50, reason)
		n.warn(WarnUnexpectedSyncError, reason.Error())
	case errors.Is(reason, core.ErrDiscontinuousBatch), errors.Is(reason, core.ErrEmptyBatch):
		peer.Misbehave(50, reason)
	case errors.Is(reason, core.ErrUnknownPrevious):
		// Possibly a deep disagreement; ask again with a fresh locator.
		peer.Misbehave(10, reason)
	default:
		n.warn(WarnUnexpectedSyncError, reason.Error())
	}
}

func (n *Node) handleFilterHeaders(peer *p2p.Peer, msg *p2p.MsgCFHeaders) {
	if n.cfhOwner != peer.ID() {
		return
	}
	n.cfhOwner = 0
	err := n.fc.IngestFilterHeaders(n.cfhStart, msg.PreviousFilterHeader, msg.FilterHashes)
	if err != nil {
		peer.Misbehave(100, err)
		n.warn(WarnUnexpectedSyncError, err.Error())
		return
	}
	n.infos.push(InfoProgress{State: StateHeadersSynced, Completed: n.fc.HeaderCursor(), Tip: n.hc.Height()})
	n.dialog(fmt.Sprintf("filter headers at %d", n.fc.HeaderCursor()))
}

func (n *Node) handleFilter(peer *p2p.Peer, msg *p2p.MsgCFilter) {
	height, ok := n.hc.HeightOf(msg.BlockHash)
	if !ok {
		peer.Misbehave(30, fmt.Errorf("filter for unknown block %s", msg.BlockHash))
		return
	}
	if err := n.fc.IngestFilter(height, msg.BlockHash, msg.Filter); err != nil {
		peer.Misbehave(100, err)
		n.warn(WarnUnexpectedSyncError, err.Error())
		n.cfilOwner = 0
		return
	}
	if n.fc.FilterCursor()%FilterProgressStride == 0 {
		n.infos.push(InfoProgress{State: StateFilterHeadersSynced, Completed: n.fc.FilterCursor(), Tip: n.hc.Height()})
	}
	if n.cfilOwner == peer.ID() && n.fc.FilterCursor() >= n.cfilStop {
		n.cfilOwner = 0
	}
}

// FilterProgressStride paces filter progress tickers.
const FilterProgressStride = 500

func (n *Node) handleBlock(peer *p2p.Peer, msg *p2p.MsgBlock) {
	if n.blockOwner != peer.ID() {
		return
	}
	block := msg.Block
	if block.Hash() != n.blockReq.hash {
		peer.Misbehave(50, fmt.Errorf("wrong block %s", block.Hash()))
		n.blockOwner = 0
		n.requeueBlock()
		return
	}
	if err := block.CheckMerkleRoot(); err != nil {
		peer.Misbehave(100, err)
		n.blockOwner = 0
		n.requeueBlock()
		return
	}
	height := n.blockReq.height
	n.blockOwner = 0
	n.events.push(EventBlock{Block: core.IndexedBlock{Height: height, Block: block}})
	n.dialog(fmt.Sprintf("matched block %d %s", height, block.Hash()))
}

// requeueBlock re-dispatches the current block request on the next turn.
func (n *Node) requeueBlock() {
	if height := n.blockReq.height; height > 0 {
		if hash, ok := n.hc.HashAt(height); ok && hash == n.blockReq.hash {
			// Push the height back into the match queue through the
			// filter chain.
			n.fc.RequeueMatch(height)
		}
	}
}

// handleInv reacts to block announcements by asking the announcer for
// headers.
func (n *Node) handleInv(peer *p2p.Peer, msg *p2p.MsgInv) {
	for _, item := range msg.Items {
		if item.Type&^p2p.InvWitnessFlag == p2p.InvBlock {
			if _, known := n.hc.HeightOf(item.Hash); !known {
				n.announcer = peer.ID()
				n.caughtUp.Remove(peer.ID())
				if n.curState() == StateTransactionsSynced {
					n.setState(StateBehind)
				}
			}
		}
	}
}

// handleGetData serves our announced transactions back to pulling peers.
func (n *Node) handleGetData(peer *p2p.Peer, msg *p2p.MsgGetData) {
	for _, item := range msg.Items {
		if item.Type&^p2p.InvWitnessFlag != p2p.InvTx {
			continue
		}
		ptx, ok := n.pendingTxs[item.Hash]
		if !ok {
			continue
		}
		peer.Send(&p2p.MsgTx{Tx: ptx.tx})
		if !ptx.sent {
			ptx.sent = true
			n.infos.push(InfoTxSent{Txid: ptx.txid})
			n.dialog(fmt.Sprintf("transaction %s sent", ptx.txid))
		}
	}
}

// handleReject surfaces a transaction rejection. The broadcast is not
// retried on another peer; the caller decides what to do next.
func (n *Node) handleReject(msg *p2p.MsgReject) {
	if msg.Message != p2p.CmdTx {
		return
	}
	ptx, ok := n.pendingTxs[msg.Hash]
	if !ok {
		return
	}
	delete(n.pendingTxs, ptx.txid)
	delete(n.pendingTxs, ptx.wtxid)
	payload := RejectPayload{Reason: msg.Code, Txid: ptx.txid}
	n.warn(WarnTransactionRejected, fmt.Sprintf("%s: %s", payload.Txid, payload.Reason))
}

// abortFilterDispatches cancels outstanding filter requests after a reorg
// or restart.
func (n *Node) abortFilterDispatches() {
	if peer := n.peerByID(n.cfhOwner); peer != nil {
		peer.CancelRequest(p2p.CmdCFHeaders)
	}
	if peer := n.peerByID(n.cfilOwner); peer != nil {
		peer.CancelRequest(p2p.CmdCFilter)
	}
	if peer := n.peerByID(n.blockOwner); peer != nil {
		peer.CancelRequest(p2p.CmdBlock)
	}
	n.cfhOwner, n.cfilOwner, n.blockOwner = 0, 0, 0
}

// handleCommand executes one requester command. It reports whether the
// node should shut down.
func (n *Node) handleCommand(ctx context.Context, cmd any) bool {
	switch c := cmd.(type) {
	case cmdShutdown:
		c.done <- nil
		return true
	case cmdBroadcast:
		c.done <- n.broadcast(c.tx)
	case cmdAddScripts:
		n.fc.AddScripts(c.scripts)
		n.regressForRescan()
		c.done <- nil
	case cmdRescan:
		n.fc.Rescan()
		n.regressForRescan()
		c.done <- nil
	case cmdGetHeader:
		hdr, ok := n.hc.HeaderAt(c.height)
		if !ok {
			c.reply <- headerReply{err: ErrQueryUnavailable}
		} else {
			c.reply <- headerReply{header: hdr}
		}
	case cmdGetHeaderRange:
		c.reply <- rangeReply{headers: n.hc.Range(c.start, c.stop)}
	case cmdMinFeerate:
		rate, err := n.minFeerate()
		c.reply <- feeReply{rate: rate, err: err}
	}
	return false
}

// regressForRescan steps the machine back so the filter scan loop runs
// again from the rewound cursor.
func (n *Node) regressForRescan() {
	if n.curState() > StateFilterHeadersSynced {
		n.setState(StateFilterHeadersSynced)
	}
}

// minFeerate returns the feerate required to clear every connected peer's
// relay filter, or ErrQueryUnavailable while no connected peer has
// advertised one.
func (n *Node) minFeerate() (int64, error) {
	var max int64
	advertised := false
	for _, p := range n.readyPeers() {
		if rate := p.FeeRate(); rate > 0 {
			advertised = true
			if rate > max {
				max = rate
			}
		}
	}
	if !advertised {
		return 0, ErrQueryUnavailable
	}
	return max, nil
}

// broadcast stages a transaction and announces it under its policy.
func (n *Node) broadcast(tx TxBroadcast) error {
	ready := n.readyPeers()
	if len(ready) == 0 {
		return ErrQueryUnavailable
	}
	ptx := &pendingTx{
		tx:     tx.Tx,
		txid:   tx.Tx.TxID(),
		wtxid:  tx.Tx.WTxID(),
		policy: tx.Policy,
	}
	n.pendingTxs[ptx.txid] = ptx
	n.pendingTxs[ptx.wtxid] = ptx
	witness := tx.Tx.HasWitness()
	switch tx.Policy {
	case AllPeers:
		for _, p := range ready {
			p.AnnounceTransaction(ptx.wtxid, witness)
			ptx.announce++
		}
	case RandomPeer:
		p := ready[rand.Intn(len(ready))]
		p.AnnounceTransaction(ptx.wtxid, witness)
		ptx.announce++
	}
	n.dialog(fmt.Sprintf("announced transaction %s to %d peer(s)", ptx.txid, ptx.announce))
	return nil
}

// commit persists appended headers.
func (n *Node) commit(ctx context.Context) {
	if err := n.hc.Commit(ctx); err != nil {
		n.warn(WarnFailedPersistence, err.Error())
	}
}

// shutdown tears the node down: close sessions with a drain grace, finish
// persistence, complete pending commands, and drain the client streams.
func (n *Node) shutdown(ctx context.Context) error {
	n.running.Store(false)
	n.quitOnce()
	n.dialog("shutting down")

	for _, h := range n.peers {
		h.peer.Close(p2p.ErrSessionClosed)
		h.cancel()
	}
	n.commit(ctx)

	// Complete whatever commands raced the shutdown.
	for {
		select {
		case cmd := <-n.commands:
			failCommand(cmd)
			continue
		default:
		}
		break
	}

	if n.closeStores != nil {
		if err := n.closeStores(); err != nil {
			n.lg.Error("Store close failed", "err", err)
		}
	}
	n.events.close()
	n.infos.close()
	n.warns.close()
	n.logs.close()
	n.lg.Info("Node stopped")
	return nil
}

// failCommand completes a command envelope with ErrNodeStopped.
func failCommand(cmd any) {
	switch c := cmd.(type) {
	case cmdShutdown:
		c.done <- nil
	case cmdBroadcast:
		c.done <- ErrNodeStopped
	case cmdAddScripts:
		c.done <- ErrNodeStopped
	case cmdRescan:
		c.done <- ErrNodeStopped
	case cmdGetHeader:
		c.reply <- headerReply{err: ErrNodeStopped}
	case cmdGetHeaderRange:
		c.reply <- rangeReply{err: ErrNodeStopped}
	case cmdMinFeerate:
		c.reply <- feeReply{err: ErrNodeStopped}
	}
}

// Tip returns the current best checkpoint, for observability.
func (n *Node) Tip() params.Checkpoint { return n.hc.Tip() }

// State returns the current sync phase, for observability.
func (n *Node) State() NodeState { return n.curState() }
