package ledger

import (
	"fmt"
	"math"
)

// Per-transaction cost accounting used by the default validity oracle.
const (
	TxBaseCost   uint64 = 1000
	TxInputCost  uint64 = 100
	TxOutputCost uint64 = 50
)

// Validator is the transaction validity oracle: given a transaction, its
// resolved input boxes (in input order) and the current chain context, it
// returns the transaction cost or a validity failure. Implementations doing
// full script evaluation plug in here.
type Validator interface {
	ValidateStateful(tx *Transaction, inputs []*Box, ctx *StateContext) (uint64, error)
}

// NewValidator returns the default oracle: value conservation, creation
// height sanity and size-based cost accounting.
func NewValidator() Validator {
	return defaultValidator{}
}

type defaultValidator struct{}

func (defaultValidator) ValidateStateful(tx *Transaction, inputs []*Box, ctx *StateContext) (uint64, error) {
	if len(inputs) != len(tx.Inputs) {
		return 0, fmt.Errorf("%w: %d resolved, %d referenced", ErrInputMismatch, len(inputs), len(tx.Inputs))
	}

	var inSum uint64
	for _, in := range inputs {
		if in.Value > math.MaxUint64-inSum {
			return 0, ErrValueOverflow
		}
		inSum += in.Value
	}

	var outSum uint64
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.Value > math.MaxUint64-outSum {
			return 0, ErrValueOverflow
		}
		outSum += out.Value
		if out.CreationHeight > ctx.Height+1 {
			return 0, fmt.Errorf("%w: output %d at height %d, context height %d",
				ErrFutureOutput, i, out.CreationHeight, ctx.Height)
		}
	}
	if outSum > inSum {
		return 0, fmt.Errorf("%w: in %d, out %d", ErrInsufficient, inSum, outSum)
	}

	cost := TxBaseCost +
		TxInputCost*uint64(len(tx.Inputs)) +
		TxOutputCost*uint64(len(tx.Outputs))
	return cost, nil
}
