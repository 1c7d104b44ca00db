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
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core"
	"github.com/lantern-btc/lantern/db"
	"github.com/lantern-btc/lantern/db/leveldb"
	"github.com/lantern-btc/lantern/db/memorydb"
	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/p2p"
	"github.com/lantern-btc/lantern/params"
)

// Configuration errors, reported at build time.
var (
	// ErrInvalidNetwork means the network identifier is not supported.
	ErrInvalidNetwork = errors.New("node: invalid network")
	// ErrInvalidCheckpoint means a configured checkpoint is malformed.
	ErrInvalidCheckpoint = errors.New("node: invalid checkpoint")
	// ErrNoPeers means no address source exists: no trusted peers, no
	// persisted peers, and the network has no DNS seeds.
	ErrNoPeers = errors.New("node: no peer source configured")
	// ErrTorUnsupported means the Tor connection type was selected
	// without supplying an onion-capable dialer.
	ErrTorUnsupported = errors.New("node: tor requires a custom dialer")
)

// ConnectionType selects the transport peers are dialed over.
type ConnectionType int

const (
	// ClearNet dials peers over plain TCP.
	ClearNet ConnectionType = iota
	// Tor dials peers through an onion-routing dialer, which must be
	// supplied via Dialer. Interface parity with ClearNet is the
	// dialer's responsibility.
	Tor
)

// LogLevel bounds the verbosity surfaced on the package logger.
type LogLevel int

// Log levels accepted by the builder.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
)

// PeerDBSize bounds the address book. The zero value means the default of
// 256 records.
type PeerDBSize struct {
	limit     int
	unlimited bool
}

// LimitPeerDB caps the address book at n records.
func LimitPeerDB(n int) PeerDBSize { return PeerDBSize{limit: n} }

// UnlimitedPeerDB removes the address book bound.
func UnlimitedPeerDB() PeerDBSize { return PeerDBSize{unlimited: true} }

const defaultPeerDBSize = 256

// anchorMode distinguishes the two checkpoint options.
type anchorMode int

const (
	anchorDefault anchorMode = iota
	anchorAfter              // ignored when it cannot link, with a warning
	anchorForced             // authoritative; the store is truncated to fit
)

// Config is the assembled node configuration.
type Config struct {
	chain         *params.Params
	trusted       []p2p.TrustedPeer
	scripts       [][]byte
	anchor        params.Checkpoint
	anchorSet     anchorMode
	requiredPeers int
	peerDBSize    PeerDBSize
	dataDir       string
	logLevel      LogLevel
	connection    ConnectionType
	dialer        p2p.Dialer

	// test hooks
	headerStore db.HeaderStore
	peerStore   db.PeerStore
	verifier    core.HeaderVerifier

	peerConfig *p2p.Config
}

// Builder assembles a Node and its Client. Options follow the builder
// pattern; Build validates the whole configuration at once.
type Builder struct {
	cfg Config
	err error
}

// NewBuilder starts a configuration for the given network.
func NewBuilder(network params.Network) *Builder {
	b := &Builder{}
	b.cfg.chain = params.ByNetwork(network)
	if b.cfg.chain == nil {
		b.err = ErrInvalidNetwork
	}
	b.cfg.requiredPeers = 1
	b.cfg.logLevel = LevelInfo
	return b
}

// AddPeer declares a trusted peer tried before any discovered address.
func (b *Builder) AddPeer(peer p2p.TrustedPeer) *Builder {
	b.cfg.trusted = append(b.cfg.trusted, peer)
	return b
}

// AddPeers declares several trusted peers.
func (b *Builder) AddPeers(peers []p2p.TrustedPeer) *Builder {
	b.cfg.trusted = append(b.cfg.trusted, peers...)
	return b
}

// AddScripts sets the initial watched script set.
func (b *Builder) AddScripts(scripts [][]byte) *Builder {
	b.cfg.scripts = append(b.cfg.scripts, scripts...)
	return b
}

// AfterCheckpoint scans strictly after the checkpoint. If the checkpoint
// is deeper than the persisted history allows, it is ignored with an
// UnlinkableAnchor warning.
func (b *Builder) AfterCheckpoint(cp params.Checkpoint) *Builder {
	b.cfg.anchor = cp
	b.cfg.anchorSet = anchorAfter
	return b
}

// AnchorCheckpoint scans strictly after the checkpoint, truncating the
// persisted history when it disagrees.
func (b *Builder) AnchorCheckpoint(cp params.Checkpoint) *Builder {
	b.cfg.anchor = cp
	b.cfg.anchorSet = anchorForced
	return b
}

// RequiredPeers sets how many live connections the node maintains.
func (b *Builder) RequiredPeers(n int) *Builder {
	if n > 0 {
		b.cfg.requiredPeers = n
	}
	return b
}

// PeerDBSize bounds the persisted address book.
func (b *Builder) PeerDBSize(size PeerDBSize) *Builder {
	b.cfg.peerDBSize = size
	return b
}

// DataDir sets the storage root. Without one, state is kept in memory.
func (b *Builder) DataDir(path string) *Builder {
	b.cfg.dataDir = path
	return b
}

// LogLevel bounds the package logger verbosity.
func (b *Builder) LogLevel(lvl LogLevel) *Builder {
	b.cfg.logLevel = lvl
	return b
}

// ConnectionType selects the peer transport.
func (b *Builder) ConnectionType(ct ConnectionType) *Builder {
	b.cfg.connection = ct
	return b
}

// Dialer substitutes the stream transport, e.g. an onion-routing dialer
// for Tor.
func (b *Builder) Dialer(d p2p.Dialer) *Builder {
	b.cfg.dialer = d
	return b
}

// WithStores substitutes the persistence backends, mainly for tests and
// embedders with their own storage engines.
func (b *Builder) WithStores(headers db.HeaderStore, peers db.PeerStore) *Builder {
	b.cfg.headerStore = headers
	b.cfg.peerStore = peers
	return b
}

// withVerifier substitutes the header verifier in tests.
func (b *Builder) withVerifier(v core.HeaderVerifier) *Builder {
	b.cfg.verifier = v
	return b
}

// Build validates the configuration and assembles the node and its client
// handles.
func (b *Builder) Build() (*Node, *Client, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	cfg := &b.cfg
	chain := cfg.chain

	switch cfg.logLevel {
	case LevelDebug:
		log.SetLevel(log.LvlDebug)
	case LevelInfo:
		log.SetLevel(log.LvlInfo)
	case LevelWarning:
		log.SetLevel(log.LvlWarn)
	}
	lg := log.New("module", "node")

	if cfg.anchorSet != anchorDefault {
		if cfg.anchor.Hash.IsZero() && cfg.anchor.Height != 0 {
			return nil, nil, ErrInvalidCheckpoint
		}
	}
	if cfg.connection == Tor && cfg.dialer == nil {
		return nil, nil, ErrTorUnsupported
	}
	if len(cfg.trusted) == 0 && len(chain.DNSSeeds) == 0 && cfg.peerStore == nil && cfg.dataDir == "" {
		// Without seeds, a persisted address book or trusted peers
		// there is nothing to dial, ever.
		return nil, nil, ErrNoPeers
	}

	headerStore, peerStore, closeStores, err := b.openStores()
	if err != nil {
		return nil, nil, err
	}

	warns := newQueue[Warning]()
	anchor, err := resolveAnchor(cfg, headerStore, warns)
	if err != nil {
		closeStores()
		return nil, nil, err
	}
	verifier := cfg.verifier
	if verifier == nil {
		verifier = core.NewHeaderVerifier(chain)
	}
	hc, err := core.NewHeaderChain(context.Background(), headerStore, chain, verifier, anchor, lg)
	if err != nil {
		closeStores()
		return nil, nil, err
	}
	fc := core.NewFilterChain(hc, cfg.scripts, lg)

	cfg.peerConfig = &p2p.Config{
		Params:           chain,
		UserAgent:        UserAgent,
		Services:         0,
		RequiredServices: p2p.ServiceCompactFilters | p2p.ServiceWitness,
		StartHeight:      func() int32 { return int32(hc.Height()) },
	}
	mgr := p2p.NewManager(chain, peerStore, cfg.trusted, cfg.dialer, lg)

	quit := make(chan struct{})
	var once sync.Once
	n := &Node{
		cfg:         cfg,
		lg:          lg,
		hc:          hc,
		fc:          fc,
		mgr:         mgr,
		headerStore: headerStore,
		peerStore:   peerStore,
		closeStores: closeStores,
		inbound:     make(chan p2p.Inbound, 256),
		commands:    make(chan any, 32),
		exits:       make(chan peerExit, 8),
		dialed:      make(chan *p2p.Peer, 8),
		peers:       make(map[uint64]*peerHandle),
		caughtUp:    mapset.NewThreadUnsafeSet[uint64](),
		pendingTxs:  make(map[common.Hash]*pendingTx),
		events:      newQueue[Event](),
		infos:       newQueue[Info](),
		warns:       warns,
		logs:        newLogFeed(),
		quit:        quit,
	}
	n.quitOnce = func() { once.Do(func() { close(quit) }) }

	client := &Client{
		Requester: &Requester{n: n},
		events:    n.events,
		infos:     n.infos,
		warns:     n.warns,
		logs:      n.logs,
	}
	client.logRx = n.logs.subscribe()
	return n, client, nil
}

// UserAgent is the BIP-14 style user agent sent in version messages.
const UserAgent = "/lantern:0.1.0/"

// openStores picks the configured persistence backends: injected stores
// first, then leveldb under the data directory, then memory.
func (b *Builder) openStores() (db.HeaderStore, db.PeerStore, func() error, error) {
	cfg := &b.cfg
	if cfg.headerStore != nil || cfg.peerStore != nil {
		// Injected stores stay with their owner across node lifetimes;
		// only stores created here are closed on shutdown.
		hs, ps := cfg.headerStore, cfg.peerStore
		closeOwned := func() error { return nil }
		if hs == nil {
			created := memorydb.NewHeaderStore()
			hs, closeOwned = created, created.Close
		} else if ps == nil {
			created := memorydb.NewPeerStore(cfg.peerLimit())
			ps, closeOwned = created, created.Close
		}
		return hs, ps, closeOwned, nil
	}
	if cfg.dataDir == "" {
		hs := memorydb.NewHeaderStore()
		ps := memorydb.NewPeerStore(cfg.peerLimit())
		return hs, ps, func() error { return errors.Join(hs.Close(), ps.Close()) }, nil
	}
	store, err := leveldb.Open(filepath.Join(cfg.dataDir, cfg.chain.Name))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("node: opening store: %w", err)
	}
	return store.Headers(), store.Peers(cfg.peerLimit()), store.Close, nil
}

func (c *Config) peerLimit() int {
	if c.peerDBSize.unlimited {
		return 0
	}
	if c.peerDBSize.limit > 0 {
		return c.peerDBSize.limit
	}
	return defaultPeerDBSize
}

// resolveAnchor decides the scan anchor from the configured checkpoints
// and the persisted history.
func resolveAnchor(cfg *Config, store db.HeaderStore, warns *queue[Warning]) (params.Checkpoint, error) {
	ctx := context.Background()
	switch cfg.anchorSet {
	case anchorForced:
		// Authoritative: persisted history that does not attach to the
		// anchor is truncated here; history that attaches is loaded as
		// is, and a linkage break above its base fails the load with
		// ErrCorruptedHeaders.
		if ok, err := anchorLinks(ctx, store, cfg.anchor); err != nil {
			return params.Checkpoint{}, err
		} else if !ok {
			warns.push(Warning{Kind: WarnUnlinkableAnchor, Detail: "truncating persisted history"})
			if err := store.TruncateAbove(ctx, cfg.anchor.Height); err != nil {
				return params.Checkpoint{}, err
			}
		}
		return cfg.anchor, nil
	case anchorAfter:
		if ok, err := anchorLinks(ctx, store, cfg.anchor); err != nil {
			return params.Checkpoint{}, err
		} else if ok {
			return cfg.anchor, nil
		}
		warns.push(Warning{Kind: WarnUnlinkableAnchor, Detail: "ignoring configured checkpoint"})
		fallthrough
	default:
		// Resume from whatever the store is rooted at; a fresh store
		// starts from the last embedded checkpoint.
		if base, ok, err := persistedBase(ctx, store); err != nil {
			return params.Checkpoint{}, err
		} else if ok {
			return base, nil
		}
		return cfg.chain.LastCheckpoint(), nil
	}
}

// anchorLinks reports whether the store either is empty above the anchor
// or holds a header that connects to it.
func anchorLinks(ctx context.Context, store db.HeaderStore, anchor params.Checkpoint) (bool, error) {
	loaded, err := store.LoadAfter(ctx, anchor.Height)
	if err != nil {
		return false, err
	}
	if len(loaded) == 0 {
		return true, nil
	}
	return loaded[0].PrevBlock == anchor.Hash, nil
}

// persistedBase recovers the anchor the store was written from: the
// predecessor of its lowest header.
func persistedBase(ctx context.Context, store db.HeaderStore) (params.Checkpoint, bool, error) {
	loaded, err := store.LoadAfter(ctx, 0)
	if err != nil {
		return params.Checkpoint{}, false, err
	}
	if len(loaded) == 0 {
		return params.Checkpoint{}, false, nil
	}
	first := loaded[0]
	height, ok, err := store.HeightOf(ctx, first.Hash())
	if err != nil || !ok {
		return params.Checkpoint{}, false, err
	}
	return params.Checkpoint{Height: height - 1, Hash: first.PrevBlock}, true, nil
}
