// Package rpc serves the relay over JSON-RPC in the "relay" namespace and
// provides a typed client for it.
package rpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/bscrelay/bscrelay/light"
)

// Namespace is the JSON-RPC namespace the relay API is registered under.
const Namespace = "relay"

// BlockRef is the JSON-RPC form of light.BlockRef.
type BlockRef struct {
	Hash   common.Hash    `json:"hash"`
	Number hexutil.Uint64 `json:"number"`
}

func newBlockRef(ref light.BlockRef) *BlockRef {
	return &BlockRef{Hash: ref.Hash, Number: hexutil.Uint64(ref.Number)}
}

// Ref converts back to light.BlockRef.
func (r *BlockRef) Ref() light.BlockRef {
	return light.BlockRef{Hash: r.Hash, Number: uint64(r.Number)}
}

// Header is the JSON-RPC form of light.StoredHeader.
type Header struct {
	Hash        common.Hash    `json:"hash"`
	ParentHash  common.Hash    `json:"parentHash"`
	Number      hexutil.Uint64 `json:"number"`
	Difficulty  hexutil.Uint64 `json:"difficulty"`
	Root        common.Hash    `json:"stateRoot"`
	TxHash      common.Hash    `json:"transactionsRoot"`
	ReceiptHash common.Hash    `json:"receiptsRoot"`
	Time        hexutil.Uint64 `json:"timestamp"`
	Signer      common.Address `json:"signer"`
}

func newHeader(h *light.StoredHeader) *Header {
	if h == nil {
		return nil
	}
	return &Header{
		Hash:        h.Hash,
		ParentHash:  h.ParentHash,
		Number:      hexutil.Uint64(h.Number),
		Difficulty:  hexutil.Uint64(h.Difficulty),
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Time:        hexutil.Uint64(h.Time),
		Signer:      h.Signer,
	}
}

// Stored converts back to light.StoredHeader.
func (h *Header) Stored() *light.StoredHeader {
	return &light.StoredHeader{
		Hash:        h.Hash,
		ParentHash:  h.ParentHash,
		Number:      uint64(h.Number),
		Difficulty:  uint64(h.Difficulty),
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Time:        uint64(h.Time),
		Signer:      h.Signer,
	}
}

func toBytes(in []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = b
	}
	return out
}

func fromBytes(in [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(in))
	for i, b := range in {
		out[i] = b
	}
	return out
}
