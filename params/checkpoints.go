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

package params

import "github.com/lantern-btc/lantern/common"

// Checkpoint anchors the header chain at a known-good block. Headers at or
// below a checkpoint are trusted without re-verification, and a sync may
// start from one rather than from genesis.
type Checkpoint struct {
	Height uint32
	Hash   common.Hash
}

// mainnetCheckpoints are well-known block hashes on the production chain,
// ascending by height.
var mainnetCheckpoints = []Checkpoint{
	{11111, common.MustHashFromHex("0000000069e244f73d78e8fd29ba2fd2ed618bd6fa2ee92559f542fdb26e7c1d")},
	{33333, common.MustHashFromHex("000000002dd5588a74784eaa7ab0507a18ad16a236e7b1ce69f00d7ddfb5d0a6")},
	{74000, common.MustHashFromHex("0000000000573993a3c9e41ce34471c079dcf5f52a0e824a81e7f953b8661a20")},
	{105000, common.MustHashFromHex("00000000000291ce28027faea320c8d2b054b2e0fe44a773f3eefb151d6bdc97")},
	{134444, common.MustHashFromHex("00000000000005b12ffd4cd315cd34ffd4a594f430ac814c91184a0d42d2b0fe")},
	{168000, common.MustHashFromHex("000000000000099e61ea72015e79632f216fe6cb33d7899acb35b75c8303b763")},
	{193000, common.MustHashFromHex("000000000000059f452a5f7340de6682a977387c17010ff6e6c3bd83ca8b1317")},
	{210000, common.MustHashFromHex("000000000000048b95347e83192f69cf0366076336c639f9b7228e9ba171342e")},
	{216116, common.MustHashFromHex("00000000000001b4f4b433e81ee46494af945cf96014816a4e2370f11b23df4e")},
	{225430, common.MustHashFromHex("00000000000001c108384350f74090433e7fcf79a606b8e797f065b130575932")},
	{250000, common.MustHashFromHex("000000000000003887df1f29024b06fc2200b55f8af8f35453d7be294df2d214")},
	{279000, common.MustHashFromHex("0000000000000001ae8c72a0b0c301f67e3afca10e819efa9041e458e9bd7e40")},
	{295000, common.MustHashFromHex("00000000000000004d9b4ef50f0f9d686fd69db2e03af35a100370c64632a983")},
}

// signetCheckpoints anchors the default signet chain. The list is short on
// purpose; signet reorgs are rare and shallow.
var signetCheckpoints = []Checkpoint{
	{0, common.MustHashFromHex("00000008819873e925422c1ff0f99f7cc9bbb232af63a077a480a3633bee1ef6")},
}

// ClosestCheckpointBelow returns the highest embedded checkpoint at or below
// height. When the network embeds none, the genesis checkpoint is returned.
func (p *Params) ClosestCheckpointBelow(height uint32) Checkpoint {
	best := p.GenesisCheckpoint()
	for _, cp := range p.Checkpoints {
		if cp.Height <= height && cp.Height >= best.Height {
			best = cp
		}
	}
	return best
}

// LastCheckpoint returns the highest embedded checkpoint, or the genesis
// checkpoint when none are embedded.
func (p *Params) LastCheckpoint() Checkpoint {
	if len(p.Checkpoints) == 0 {
		return p.GenesisCheckpoint()
	}
	return p.Checkpoints[len(p.Checkpoints)-1]
}
