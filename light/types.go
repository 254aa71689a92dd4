// Package light implements a header relay for Parlia (proof-of-staked
// authority) chains. It accepts block headers sealed by the active validator
// set, tracks validator rotation at epoch boundaries and answers transaction
// and receipt inclusion proofs against the accepted headers.
package light

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockRef identifies a block by hash and number. The relay genesis is only
// ever known as a BlockRef; it has no stored header body.
type BlockRef struct {
	Hash   common.Hash `json:"hash"`
	Number uint64      `json:"number"`
}

// StoredHeader is the part of an accepted header the relay keeps. It is
// immutable once accepted.
type StoredHeader struct {
	Hash        common.Hash    `json:"hash"`
	ParentHash  common.Hash    `json:"parentHash"`
	Number      uint64         `json:"number"`
	Difficulty  uint64         `json:"difficulty"`
	Root        common.Hash    `json:"stateRoot"`
	TxHash      common.Hash    `json:"transactionsRoot"`
	ReceiptHash common.Hash    `json:"receiptsRoot"`
	Time        uint64         `json:"timestamp"`
	Signer      common.Address `json:"signer"`
}

// newStoredHeader captures an already validated header.
func newStoredHeader(h *types.Header, hash common.Hash, signer common.Address) *StoredHeader {
	return &StoredHeader{
		Hash:        hash,
		ParentHash:  h.ParentHash,
		Number:      h.Number.Uint64(),
		Difficulty:  h.Difficulty.Uint64(),
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Time:        h.Time,
		Signer:      signer,
	}
}

// Ref returns the header's BlockRef.
func (h *StoredHeader) Ref() BlockRef {
	return BlockRef{Hash: h.Hash, Number: h.Number}
}
