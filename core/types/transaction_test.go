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
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/common"
)

func testTx() *Transaction {
	return &Transaction{
		Version: 1,
		Inputs: []*TxIn{{
			PreviousOutPoint: OutPoint{Index: 0xffffffff},
			SignatureScript:  []byte("abc"),
			Sequence:         0xffffffff,
		}},
		Outputs: []*TxOut{{
			Value:    50_0000_0000,
			PkScript: []byte("xyz"),
		}},
	}
}

func TestTransactionTxID(t *testing.T) {
	tx := testTx()
	require.Equal(t,
		"472764216ae117af477cc677ce14a03a3f872fdb98d429c3db2404d32e1380fc",
		tx.TxID().String())
	// No witness data: both identifiers coincide.
	require.Equal(t, tx.TxID(), tx.WTxID())
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := testTx()
	raw := tx.Bytes()
	decoded := new(Transaction)
	require.NoError(t, decoded.Decode(bytes.NewReader(raw)))
	require.Equal(t, tx.TxID(), decoded.TxID())
	require.Equal(t, raw, decoded.Bytes())
}

func TestTransactionWitnessRoundTrip(t *testing.T) {
	tx := testTx()
	tx.Inputs[0].Witness = [][]byte{{0x01, 0x02}, {0x03}}
	require.True(t, tx.HasWitness())

	raw := tx.Bytes()
	decoded := new(Transaction)
	require.NoError(t, decoded.Decode(bytes.NewReader(raw)))
	require.True(t, decoded.HasWitness())
	require.Equal(t, tx.Inputs[0].Witness, decoded.Inputs[0].Witness)
	// The witness discount: txid ignores the witness, wtxid does not.
	require.Equal(t, testTx().TxID(), decoded.TxID())
	require.NotEqual(t, decoded.TxID(), decoded.WTxID())
}

func TestTransactionRejectsEmpty(t *testing.T) {
	var empty bytes.Buffer
	_ = writeUint32(&empty, 1)
	_ = WriteVarInt(&empty, 0)
	tx := new(Transaction)
	require.Error(t, tx.Decode(bytes.NewReader(empty.Bytes())))
}

func TestBlockMerkleRoot(t *testing.T) {
	tx := testTx()
	block := &Block{
		Header: Header{
			Version:    1,
			MerkleRoot: tx.TxID(),
			Bits:       0x207fffff,
		},
		Transactions: []*Transaction{tx},
	}
	require.NoError(t, block.CheckMerkleRoot())

	block.Header.MerkleRoot = common.Hash{}
	require.ErrorIs(t, block.CheckMerkleRoot(), ErrBadMerkleRoot)
}

func TestMerkleRootOddLayer(t *testing.T) {
	// Vector over fixed leaves: the odd tail is duplicated before
	// folding.
	leaves := []common.Hash{
		common.Hash(bytes.Repeat([]byte{0x01}, 32)),
		common.Hash(bytes.Repeat([]byte{0x02}, 32)),
		common.Hash(bytes.Repeat([]byte{0x03}, 32)),
	}
	want, _ := hex.DecodeString("223e023fadf1f053df26988871f893c821c28edf77d64a955e6c2a02d547bdac")
	require.Equal(t, want, merkleRoot(leaves).Bytes())
}

func TestBlockRoundTrip(t *testing.T) {
	tx := testTx()
	block := &Block{
		Header:       Header{Version: 1, MerkleRoot: tx.TxID(), Bits: 0x207fffff},
		Transactions: []*Transaction{tx},
	}
	var buf bytes.Buffer
	require.NoError(t, block.Encode(&buf))
	decoded := new(Block)
	require.NoError(t, decoded.Decode(bytes.NewReader(buf.Bytes())))
	require.Equal(t, block.Hash(), decoded.Hash())
	require.NoError(t, decoded.CheckMerkleRoot())
}

func TestVarIntCanonical(t *testing.T) {
	cases := []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000}
	for _, v := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteVarInt(&buf, v))
		got, err := ReadVarInt(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
	// Non-canonical: 0x01 carried in a two-byte encoding.
	if _, err := ReadVarInt(bytes.NewReader([]byte{0xfd, 0x01, 0x00})); err == nil {
		t.Fatal("non-canonical varint accepted")
	}
}
