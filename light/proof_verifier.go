// proof_verifier.go answers inclusion queries against accepted headers. A
// query names a header, a trie key and the expected value; the proof nodes
// are walked from the header's transactions or receipts root.
package light

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bscrelay/bscrelay/crypto"
	"github.com/bscrelay/bscrelay/trie"
)

// ErrUnknownHeader is returned when a proof names a header that was never
// accepted. It is the only error a proof query returns; a proof that does
// not check out yields false.
var ErrUnknownHeader = errors.New("light: unknown header")

// ProofKind selects which header root a proof is checked against.
type ProofKind int

const (
	TransactionProof ProofKind = iota
	ReceiptProof
)

func (k ProofKind) String() string {
	switch k {
	case TransactionProof:
		return "transaction"
	case ReceiptProof:
		return "receipt"
	default:
		return fmt.Sprintf("ProofKind(%d)", int(k))
	}
}

// root returns the trie root of h the kind is checked against.
func (k ProofKind) root(h *StoredHeader) common.Hash {
	if k == ReceiptProof {
		return h.ReceiptHash
	}
	return h.TxHash
}

// VerifyTransaction reports whether value is stored under key in the
// transactions trie of the accepted header headerHash.
func (r *Relay) VerifyTransaction(headerHash common.Hash, value, key []byte, nodes [][]byte) (bool, error) {
	return r.verify(TransactionProof, headerHash, value, key, nodes)
}

// VerifyReceipt reports whether value is stored under key in the receipts
// trie of the accepted header headerHash.
func (r *Relay) VerifyReceipt(headerHash common.Hash, value, key []byte, nodes [][]byte) (bool, error) {
	return r.verify(ReceiptProof, headerHash, value, key, nodes)
}

func (r *Relay) verify(kind ProofKind, headerHash common.Hash, value, key []byte, nodes [][]byte) (bool, error) {
	r.mu.RLock()
	h, ok := r.state.headers[headerHash]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownHeader, headerHash.Hex())
	}
	if err := trie.WalkProof(kind.root(h), key, value, nodes); err != nil {
		proofsFailedMeter.Mark(1)
		r.log.Trace("Proof rejected", "kind", kind, "block", h.Number, "err", err)
		return false, nil
	}
	proofsVerifiedMeter.Mark(1)
	return true, nil
}

// ParseHeaderRef resolves a header reference as accepted by the proof
// queries: either a 32-byte block hash or a full RLP-encoded header, which
// is hashed.
func ParseHeaderRef(ref []byte) (common.Hash, error) {
	if len(ref) == common.HashLength {
		return common.BytesToHash(ref), nil
	}
	if len(ref) == 0 {
		return common.Hash{}, fmt.Errorf("%w: empty reference", ErrUnknownHeader)
	}
	return crypto.Keccak256Hash(ref), nil
}
