// proof_verifier.go provides stateless Merkle Patricia Trie inclusion proof
// verification. No trie database is needed, only the root hash, the key, the
// expected value and the proof nodes ordered from root to leaf.
package trie

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/bscrelay/bscrelay/crypto"
)

// Proof walk failures. VerifyInclusion folds all of them into false;
// WalkProof reports which one stopped the walk.
var (
	ErrProofExhausted   = errors.New("proof_verifier: ran out of proof nodes")
	ErrProofNodeHash    = errors.New("proof_verifier: node hash does not match reference")
	ErrProofNodeDecode  = errors.New("proof_verifier: undecodable node")
	ErrProofPathDiverge = errors.New("proof_verifier: path diverges from proof")
	ErrProofNoValue     = errors.New("proof_verifier: no value at path")
	ErrProofValue       = errors.New("proof_verifier: value mismatch")
	ErrProofUnusedNodes = errors.New("proof_verifier: proof has unused nodes")
)

const (
	branchNodeLen = 17
	shortNodeLen  = 2
)

// nodeElem is one element of a decoded trie node.
type nodeElem struct {
	kind rlp.Kind
	val  []byte // content for strings, full encoding for lists
}

// VerifyInclusion reports whether nodes prove that key maps to value in the
// trie with the given root. It returns true only for an exact match with the
// whole path consumed and every proof node used.
func VerifyInclusion(root common.Hash, key, value []byte, nodes [][]byte) bool {
	return WalkProof(root, key, value, nodes) == nil
}

// WalkProof walks nodes along key starting at root and checks that the value
// found equals value. A nil result means the proof is valid.
func WalkProof(root common.Hash, key, value []byte, nodes [][]byte) error {
	path := keybytesToHex(key)
	path = path[:len(path)-1]

	ref := nodeElem{kind: rlp.String, val: root[:]}
	next := 0
	for {
		// Resolve the reference to a node encoding.
		var enc []byte
		switch {
		case ref.kind == rlp.List:
			enc = ref.val
		case ref.kind == rlp.String && len(ref.val) == common.HashLength:
			if next >= len(nodes) {
				return ErrProofExhausted
			}
			enc = nodes[next]
			next++
			if !bytes.Equal(crypto.Keccak256(enc), ref.val) {
				return ErrProofNodeHash
			}
		case ref.kind == rlp.String && len(ref.val) == 0:
			return ErrProofNoValue
		default:
			return ErrProofNodeDecode
		}

		elems, err := decodeNodeElems(enc)
		if err != nil {
			return err
		}

		switch len(elems) {
		case branchNodeLen:
			if len(path) == 0 {
				return finish(elems[16], value, next, len(nodes))
			}
			if elems[16].kind != rlp.String {
				return ErrProofNodeDecode
			}
			ref = elems[path[0]]
			path = path[1:]

		case shortNodeLen:
			if elems[0].kind != rlp.String {
				return ErrProofNodeDecode
			}
			nibbles, ok := compactToHex(elems[0].val)
			if !ok {
				return ErrProofNodeDecode
			}
			if hasTerm(nibbles) {
				// Leaf: the remaining path must match exactly.
				nibbles = nibbles[:len(nibbles)-1]
				if !bytes.Equal(nibbles, path) {
					return ErrProofPathDiverge
				}
				return finish(elems[1], value, next, len(nodes))
			}
			if len(nibbles) == 0 || !hasPrefix(path, nibbles) {
				return ErrProofPathDiverge
			}
			path = path[len(nibbles):]
			ref = elems[1]

		default:
			return ErrProofNodeDecode
		}
	}
}

// finish checks the value element reached at the end of the path.
func finish(elem nodeElem, value []byte, used, total int) error {
	if elem.kind != rlp.String {
		return ErrProofNodeDecode
	}
	if len(elem.val) == 0 {
		return ErrProofNoValue
	}
	if !bytes.Equal(elem.val, value) {
		return ErrProofValue
	}
	if used != total {
		return ErrProofUnusedNodes
	}
	return nil
}

// decodeNodeElems splits an encoded trie node into its elements. Embedded
// child nodes are returned with their full list encoding.
func decodeNodeElems(enc []byte) ([]nodeElem, error) {
	content, rest, err := rlp.SplitList(enc)
	if err != nil || len(rest) != 0 {
		return nil, ErrProofNodeDecode
	}
	elems := make([]nodeElem, 0, branchNodeLen)
	for len(content) > 0 {
		kind, val, tail, err := rlp.Split(content)
		if err != nil {
			return nil, ErrProofNodeDecode
		}
		switch kind {
		case rlp.List:
			val = content[:len(content)-len(tail)]
		case rlp.Byte:
			kind = rlp.String
		}
		elems = append(elems, nodeElem{kind: kind, val: val})
		content = tail
		if len(elems) > branchNodeLen {
			return nil, ErrProofNodeDecode
		}
	}
	return elems, nil
}
