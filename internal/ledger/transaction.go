package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/MoneroOcean/ergo/internal/crypto"
)

// Transaction consumes the boxes named by Inputs and creates Outputs. Cost
// is the carried cost estimate; the validity oracle computes the binding
// value during stateful validation.
type Transaction struct {
	Inputs  []crypto.Hash
	Outputs []Box
	Cost    uint64
}

// Bytes returns the canonical encoding the transaction identifier is
// derived from. The cost estimate is advisory and excluded.
func (tx *Transaction) Bytes() []byte {
	buf := make([]byte, 0, 2+len(tx.Inputs)*crypto.HashSize+2+len(tx.Outputs)*32)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in[:]...)
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tx.Outputs)))
	for i := range tx.Outputs {
		ob := tx.Outputs[i].Bytes()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ob)))
		buf = append(buf, ob...)
	}
	return buf
}

func (tx *Transaction) ID() crypto.Hash {
	return crypto.HashData(tx.Bytes())
}

// StatelessCheck validates everything that needs no chain state: shape and
// self-consistency. Signature and script evaluation belong to the validity
// oracle.
func (tx *Transaction) StatelessCheck() error {
	if len(tx.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	seen := make(map[crypto.Hash]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, ok := seen[in]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateInput, in)
		}
		seen[in] = struct{}{}
	}
	for i := range tx.Outputs {
		if tx.Outputs[i].Value == 0 {
			return fmt.Errorf("%w: output %d", ErrZeroValueOutput, i)
		}
	}
	return nil
}
