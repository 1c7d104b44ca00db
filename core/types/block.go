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

package types

import (
	"errors"
	"io"

	"github.com/lantern-btc/lantern/common"
)

const maxBlockTxs = 1_000_000

// ErrBadMerkleRoot is returned when a block's transactions do not hash to
// the root committed in its header.
var ErrBadMerkleRoot = errors.New("merkle root mismatch")

// Block is a full Bitcoin block.
type Block struct {
	Header       Header
	Transactions []*Transaction
}

// Hash returns the block hash.
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// Decode reads the wire serialization of a block.
func (b *Block) Decode(r io.Reader) error {
	if err := b.Header.Decode(r); err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxBlockTxs {
		return ErrVarBytesTooLarge
	}
	b.Transactions = make([]*Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		tx := new(Transaction)
		if err := tx.Decode(r); err != nil {
			return err
		}
		b.Transactions = append(b.Transactions, tx)
	}
	return nil
}

// Encode writes the wire serialization of a block.
func (b *Block) Encode(w io.Writer) error {
	if err := b.Header.Encode(w); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(b.Transactions))); err != nil {
		return err
	}
	for _, tx := range b.Transactions {
		if err := tx.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// CheckMerkleRoot recomputes the transaction merkle root and compares it to
// the header commitment. Witness data is excluded, matching consensus.
func (b *Block) CheckMerkleRoot() error {
	if len(b.Transactions) == 0 {
		return ErrBadMerkleRoot
	}
	leaves := make([]common.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.TxID()
	}
	if merkleRoot(leaves) != b.Header.MerkleRoot {
		return ErrBadMerkleRoot
	}
	return nil
}

// merkleRoot folds the leaf layer pairwise, duplicating an odd tail, until a
// single digest remains.
func merkleRoot(layer []common.Hash) common.Hash {
	for len(layer) > 1 {
		if len(layer)%2 != 0 {
			layer = append(layer, layer[len(layer)-1])
		}
		next := layer[:0:0]
		for i := 0; i < len(layer); i += 2 {
			var concat [2 * common.HashLength]byte
			copy(concat[:common.HashLength], layer[i][:])
			copy(concat[common.HashLength:], layer[i+1][:])
			next = append(next, common.DoubleHash(concat[:]))
		}
		layer = next
	}
	return layer[0]
}
