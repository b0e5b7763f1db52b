package ledger

import "errors"

var (
	ErrMalformedBox     = errors.New("ledger: malformed box bytes")
	ErrMalformedContext = errors.New("ledger: malformed state context bytes")

	// Transaction validity failures.
	ErrNoInputs        = errors.New("ledger: transaction has no inputs")
	ErrNoOutputs       = errors.New("ledger: transaction has no outputs")
	ErrDuplicateInput  = errors.New("ledger: duplicate input")
	ErrZeroValueOutput = errors.New("ledger: output with zero value")
	ErrValueOverflow   = errors.New("ledger: value sum overflows")
	ErrInsufficient    = errors.New("ledger: input value below output value")
	ErrFutureOutput    = errors.New("ledger: output created above current height")
	ErrInputMismatch   = errors.New("ledger: resolved inputs do not match transaction inputs")
)
