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
	"errors"
	"io"

	"github.com/lantern-btc/lantern/common"
)

const (
	maxTxInputs  = 100_000
	maxWitnesses = 100_000

	segwitMarker = 0x00
	segwitFlag   = 0x01
)

var errEmptyTx = errors.New("transaction has no inputs")

// OutPoint references an output of a previous transaction.
type OutPoint struct {
	Hash  common.Hash
	Index uint32
}

// TxIn is a transaction input with its optional witness stack.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Witness          [][]byte
	Sequence         uint32
}

// TxOut is a transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// Transaction is a Bitcoin transaction. The client never validates scripts;
// it only carries transactions between the wire and the caller.
type Transaction struct {
	Version  int32
	Inputs   []*TxIn
	Outputs  []*TxOut
	LockTime uint32
}

// HasWitness reports whether any input carries witness data.
func (tx *Transaction) HasWitness() bool {
	for _, in := range tx.Inputs {
		if len(in.Witness) > 0 {
			return true
		}
	}
	return false
}

// TxID returns the double-SHA256 of the serialization without witness data.
func (tx *Transaction) TxID() common.Hash {
	var buf bytes.Buffer
	_ = tx.encode(&buf, false)
	return common.DoubleHash(buf.Bytes())
}

// WTxID returns the double-SHA256 of the full serialization including
// witnesses. For transactions without witnesses it equals TxID.
func (tx *Transaction) WTxID() common.Hash {
	var buf bytes.Buffer
	_ = tx.encode(&buf, tx.HasWitness())
	return common.DoubleHash(buf.Bytes())
}

// Encode writes the wire serialization, using the BIP-144 extended format
// when witness data is present.
func (tx *Transaction) Encode(w io.Writer) error {
	return tx.encode(w, tx.HasWitness())
}

func (tx *Transaction) encode(w io.Writer, witness bool) error {
	if err := writeUint32(w, uint32(tx.Version)); err != nil {
		return err
	}
	if witness {
		if _, err := w.Write([]byte{segwitMarker, segwitFlag}); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for _, in := range tx.Inputs {
		if _, err := w.Write(in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}
		if err := writeUint32(w, in.PreviousOutPoint.Index); err != nil {
			return err
		}
		if err := WriteVarBytes(w, in.SignatureScript); err != nil {
			return err
		}
		if err := writeUint32(w, in.Sequence); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for _, out := range tx.Outputs {
		if err := writeUint64(w, uint64(out.Value)); err != nil {
			return err
		}
		if err := WriteVarBytes(w, out.PkScript); err != nil {
			return err
		}
	}
	if witness {
		for _, in := range tx.Inputs {
			if err := WriteVarInt(w, uint64(len(in.Witness))); err != nil {
				return err
			}
			for _, item := range in.Witness {
				if err := WriteVarBytes(w, item); err != nil {
					return err
				}
			}
		}
	}
	return writeUint32(w, tx.LockTime)
}

// Decode reads the wire serialization, accepting both the legacy and the
// BIP-144 extended format.
func (tx *Transaction) Decode(r io.Reader) error {
	v, err := readUint32(r)
	if err != nil {
		return err
	}
	tx.Version = int32(v)

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	witness := false
	if count == segwitMarker {
		var flag [1]byte
		if _, err := io.ReadFull(r, flag[:]); err != nil {
			return err
		}
		if flag[0] != segwitFlag {
			return errors.New("invalid segwit flag")
		}
		witness = true
		if count, err = ReadVarInt(r); err != nil {
			return err
		}
	}
	if count == 0 {
		return errEmptyTx
	}
	if count > maxTxInputs {
		return ErrVarBytesTooLarge
	}
	tx.Inputs = make([]*TxIn, 0, count)
	for i := uint64(0); i < count; i++ {
		in := new(TxIn)
		if _, err := io.ReadFull(r, in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}
		if in.PreviousOutPoint.Index, err = readUint32(r); err != nil {
			return err
		}
		if in.SignatureScript, err = ReadVarBytes(r, MaxVarBytes); err != nil {
			return err
		}
		if in.Sequence, err = readUint32(r); err != nil {
			return err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	outCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if outCount > maxTxInputs {
		return ErrVarBytesTooLarge
	}
	tx.Outputs = make([]*TxOut, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		out := new(TxOut)
		val, err := readUint64(r)
		if err != nil {
			return err
		}
		out.Value = int64(val)
		if out.PkScript, err = ReadVarBytes(r, MaxVarBytes); err != nil {
			return err
		}
		tx.Outputs = append(tx.Outputs, out)
	}

	if witness {
		for _, in := range tx.Inputs {
			items, err := ReadVarInt(r)
			if err != nil {
				return err
			}
			if items > maxWitnesses {
				return ErrVarBytesTooLarge
			}
			in.Witness = make([][]byte, 0, items)
			for j := uint64(0); j < items; j++ {
				item, err := ReadVarBytes(r, MaxVarBytes)
				if err != nil {
					return err
				}
				in.Witness = append(in.Witness, item)
			}
		}
	}

	tx.LockTime, err = readUint32(r)
	return err
}

// Bytes returns the full wire serialization.
func (tx *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	_ = tx.Encode(&buf)
	return buf.Bytes()
}
