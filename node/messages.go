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
	"fmt"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/p2p"
)

// NodeState is the global phase of the sync state machine. It only moves
// forward within a run, except that a reorganization or a new block resets
// it to StateBehind and a rescan steps it back to StateFilterHeadersSynced.
type NodeState int32

// Sync phases, in order.
const (
	// StateBehind means the header chain is behind the network tip.
	StateBehind NodeState = iota
	// StateHeadersSynced means every connected peer agrees with our tip.
	StateHeadersSynced
	// StateFilterHeadersSynced means the filter header chain reached the
	// tip.
	StateFilterHeadersSynced
	// StateFiltersSynced means every filter up to the tip was evaluated.
	StateFiltersSynced
	// StateTransactionsSynced means all matching blocks were downloaded
	// and delivered.
	StateTransactionsSynced
)

// String implements fmt.Stringer.
func (s NodeState) String() string {
	switch s {
	case StateBehind:
		return "syncing headers"
	case StateHeadersSynced:
		return "headers synced"
	case StateFilterHeadersSynced:
		return "filter headers synced"
	case StateFiltersSynced:
		return "filters synced"
	case StateTransactionsSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Event is a message on the primary client stream. Events are never
// dropped and arrive in publication order.
type Event interface{ event() }

// EventBlock delivers a block whose filter matched the watched scripts.
// The block may contain no relevant transactions: filters have a non-zero
// false-positive rate.
type EventBlock struct{ Block core.IndexedBlock }

// EventBlocksDisconnected reports a reorganization. Headers are ordered by
// ascending height with the old tip last; each disconnected header is
// reported exactly once.
type EventBlocksDisconnected struct{ Headers []core.DisconnectedHeader }

// EventSynced closes a sync epoch with the tip and recent history.
type EventSynced struct{ Update core.SyncUpdate }

func (EventBlock) event()              {}
func (EventBlocksDisconnected) event() {}
func (EventSynced) event()             {}

// Info is a message on the advisory progress stream.
type Info interface{ info() }

// InfoStateChange reports a sync phase transition.
type InfoStateChange struct{ State NodeState }

// InfoConnectionsMet reports that the required number of peer connections
// is established.
type InfoConnectionsMet struct{}

// InfoProgress is a coarse progress ticker for the bulk sync phases.
type InfoProgress struct {
	State     NodeState
	Completed uint32
	Tip       uint32
}

// InfoTxSent reports that a broadcast transaction was sent to at least one
// peer. Being sent does not guarantee relay or acceptance.
type InfoTxSent struct{ Txid common.Hash }

func (InfoStateChange) info()    {}
func (InfoConnectionsMet) info() {}
func (InfoProgress) info()       {}
func (InfoTxSent) info()         {}

// WarningKind enumerates the recoverable faults a node reports.
type WarningKind int

// Warning kinds.
const (
	WarnNotEnoughConnections WarningKind = iota
	WarnPeerTimedOut
	WarnCouldNotConnect
	WarnUnsolicitedMessage
	WarnUnlinkableAnchor
	WarnCorruptedHeaders
	WarnTransactionRejected
	WarnFailedPersistence
	WarnEvaluatingFork
	WarnEmptyPeerDatabase
	WarnUnexpectedSyncError
)

// Warning is a typed recoverable fault. The node downscores, warns and
// proceeds; it never stops on peer misbehavior.
type Warning struct {
	Kind   WarningKind
	Detail string
}

// String implements fmt.Stringer.
func (w Warning) String() string {
	var msg string
	switch w.Kind {
	case WarnNotEnoughConnections:
		msg = "looking for connections to peers"
	case WarnPeerTimedOut:
		msg = "a connection to a peer timed out"
	case WarnCouldNotConnect:
		msg = "an attempted connection failed or timed out"
	case WarnUnsolicitedMessage:
		msg = "a peer sent a message the node did not request"
	case WarnUnlinkableAnchor:
		msg = "the configured anchor is deeper than the persisted history"
	case WarnCorruptedHeaders:
		msg = "the persisted headers do not link together"
	case WarnTransactionRejected:
		msg = "a transaction was rejected"
	case WarnFailedPersistence:
		msg = "a database failed to persist some data"
	case WarnEvaluatingFork:
		msg = "a peer sent a potential fork"
	case WarnEmptyPeerDatabase:
		msg = "the peer database has no values"
	case WarnUnexpectedSyncError:
		msg = "error handling a peer-to-peer message"
	default:
		msg = "unknown warning"
	}
	if w.Detail == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", msg, w.Detail)
}

// TxPolicy selects how a broadcast transaction is shared with the network.
type TxPolicy int

const (
	// RandomPeer sends the transaction to a single random peer, the
	// better choice for privacy.
	RandomPeer TxPolicy = iota
	// AllPeers fans the transaction out to every connected peer.
	AllPeers
)

// TxBroadcast pairs a transaction with its broadcast policy.
type TxBroadcast struct {
	Tx     *types.Transaction
	Policy TxPolicy
}

// RejectPayload describes a transaction rejection received from a peer.
type RejectPayload struct {
	Reason p2p.RejectCode
	Txid   common.Hash
}
