package avltree

import "github.com/MoneroOcean/ergo/internal/crypto"

type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpRemove
)

// Operation is a single mutating tree operation. Batches are plain slices of
// operations, applied in order.
type Operation struct {
	Kind  OpKind
	Key   crypto.Hash
	Value []byte
}

func Insert(key crypto.Hash, value []byte) Operation {
	return Operation{Kind: OpInsert, Key: key, Value: value}
}

func Update(key crypto.Hash, value []byte) Operation {
	return Operation{Kind: OpUpdate, Key: key, Value: value}
}

func Remove(key crypto.Hash) Operation {
	return Operation{Kind: OpRemove, Key: key}
}
