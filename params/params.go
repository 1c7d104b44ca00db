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

// Package params defines the supported Bitcoin networks and their consensus
// constants.
package params

import (
	"time"

	"github.com/lantern-btc/lantern/common"
)

// Network identifies one of the supported Bitcoin networks.
type Network int

const (
	// Mainnet is the production Bitcoin network.
	Mainnet Network = iota
	// Testnet3 is the long-running public test network.
	Testnet3
	// Testnet4 is the 2024 replacement test network.
	Testnet4
	// Signet is the signature-gated test network.
	Signet
	// Regtest is the local regression test network.
	Regtest
)

// String implements fmt.Stringer.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet3:
		return "testnet3"
	case Testnet4:
		return "testnet4"
	case Signet:
		return "signet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// Params holds the per-network constants the node needs: wire identity, peer
// discovery inputs and the proof-of-work schedule.
type Params struct {
	Name        string
	Network     Network
	Magic       uint32 // message start, little-endian on the wire
	DefaultPort uint16
	DNSSeeds    []string

	GenesisHash common.Hash

	// Proof of work.
	PowLimitBits     uint32 // compact encoding of the highest permitted target
	TargetTimespan   time.Duration
	TargetSpacing    time.Duration
	RetargetInterval uint32 // blocks per difficulty adjustment
	// ReduceMinDifficulty permits min-difficulty blocks when the previous
	// block is older than 2*TargetSpacing (testnet rule).
	ReduceMinDifficulty bool
	// NoRetargeting disables difficulty adjustment entirely (regtest).
	NoRetargeting bool

	Checkpoints []Checkpoint
}

// MainnetParams returns the production network parameters.
func MainnetParams() *Params {
	return &Params{
		Name:        "mainnet",
		Network:     Mainnet,
		Magic:       0xd9b4bef9,
		DefaultPort: 8333,
		DNSSeeds: []string{
			"seed.bitcoin.sipa.be",
			"dnsseed.bluematt.me",
			"seed.bitcoinstats.com",
			"seed.btc.petertodd.net",
			"seed.bitcoin.sprovoost.nl",
			"dnsseed.emzy.de",
			"seed.bitcoin.wiz.biz",
		},
		GenesisHash:      common.MustHashFromHex("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"),
		PowLimitBits:     0x1d00ffff,
		TargetTimespan:   14 * 24 * time.Hour,
		TargetSpacing:    10 * time.Minute,
		RetargetInterval: 2016,
		Checkpoints:      mainnetCheckpoints,
	}
}

// Testnet3Params returns the testnet3 network parameters.
func Testnet3Params() *Params {
	return &Params{
		Name:        "testnet3",
		Network:     Testnet3,
		Magic:       0x0709110b,
		DefaultPort: 18333,
		DNSSeeds: []string{
			"testnet-seed.bitcoin.jonasschnelli.ch",
			"seed.tbtc.petertodd.net",
			"testnet-seed.bluematt.me",
		},
		GenesisHash:         common.MustHashFromHex("000000000933ea01ad0ee984209779baaec3ced90fa3f408719526f8d77f4943"),
		PowLimitBits:        0x1d00ffff,
		TargetTimespan:      14 * 24 * time.Hour,
		TargetSpacing:       10 * time.Minute,
		RetargetInterval:    2016,
		ReduceMinDifficulty: true,
	}
}

// Testnet4Params returns the testnet4 network parameters.
func Testnet4Params() *Params {
	return &Params{
		Name:        "testnet4",
		Network:     Testnet4,
		Magic:       0x283f161c,
		DefaultPort: 48333,
		DNSSeeds: []string{
			"seed.testnet4.bitcoin.sprovoost.nl",
			"seed.testnet4.wiz.biz",
		},
		GenesisHash:         common.MustHashFromHex("00000000da84f2bafbbc53dee25a72ae507ff4914b867c565be350b0da8bf043"),
		PowLimitBits:        0x1d00ffff,
		TargetTimespan:      14 * 24 * time.Hour,
		TargetSpacing:       10 * time.Minute,
		RetargetInterval:    2016,
		ReduceMinDifficulty: true,
	}
}

// SignetParams returns the default (public) signet parameters. The signet
// challenge itself is not enforced here; header linkage and peer consensus
// carry the chain.
func SignetParams() *Params {
	return &Params{
		Name:        "signet",
		Network:     Signet,
		Magic:       0x40cf030a,
		DefaultPort: 38333,
		DNSSeeds: []string{
			"seed.signet.bitcoin.sprovoost.nl",
		},
		GenesisHash:      common.MustHashFromHex("00000008819873e925422c1ff0f99f7cc9bbb232af63a077a480a3633bee1ef6"),
		PowLimitBits:     0x1e0377ae,
		TargetTimespan:   14 * 24 * time.Hour,
		TargetSpacing:    10 * time.Minute,
		RetargetInterval: 2016,
		Checkpoints:      signetCheckpoints,
	}
}

// RegtestParams returns the local regression test network parameters.
func RegtestParams() *Params {
	return &Params{
		Name:             "regtest",
		Network:          Regtest,
		Magic:            0xdab5bffa,
		DefaultPort:      18444,
		GenesisHash:      common.MustHashFromHex("0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206"),
		PowLimitBits:     0x207fffff,
		TargetTimespan:   14 * 24 * time.Hour,
		TargetSpacing:    10 * time.Minute,
		RetargetInterval: 2016,
		NoRetargeting:    true,
	}
}

// ByNetwork resolves the parameter set for a network identifier.
func ByNetwork(n Network) *Params {
	switch n {
	case Mainnet:
		return MainnetParams()
	case Testnet3:
		return Testnet3Params()
	case Testnet4:
		return Testnet4Params()
	case Signet:
		return SignetParams()
	case Regtest:
		return RegtestParams()
	default:
		return nil
	}
}

// GenesisCheckpoint returns the implicit anchor used when a network has no
// embedded checkpoints and the caller configured none.
func (p *Params) GenesisCheckpoint() Checkpoint {
	return Checkpoint{Height: 0, Hash: p.GenesisHash}
}
