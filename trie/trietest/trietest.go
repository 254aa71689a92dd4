// Package trietest builds Merkle Patricia tries with go-ethereum's trie
// implementation and extracts ordered inclusion proofs for tests.
package trietest

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/rlp"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// proofList collects proof nodes in the order the trie emits them (root
// first). It satisfies ethdb.KeyValueWriter.
type proofList [][]byte

func (p *proofList) Put(key []byte, value []byte) error {
	*p = append(*p, common.CopyBytes(value))
	return nil
}

func (p *proofList) Delete(key []byte) error {
	return fmt.Errorf("trietest: delete not supported")
}

// Trie is an in-memory trie with proof extraction.
type Trie struct {
	tr *gethtrie.Trie
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{tr: gethtrie.NewEmpty(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil))}
}

// Update sets key to value.
func (t *Trie) Update(key, value []byte) {
	t.tr.MustUpdate(key, value)
}

// Root returns the trie root hash.
func (t *Trie) Root() common.Hash {
	return t.tr.Hash()
}

// Prove returns the proof nodes for key ordered from root to leaf.
func (t *Trie) Prove(key []byte) [][]byte {
	var proof proofList
	if err := t.tr.Prove(key, &proof); err != nil {
		panic(fmt.Sprintf("trietest: prove: %v", err))
	}
	return proof
}

// IndexKey returns the trie key of the i-th transaction or receipt in a
// block: rlp(i).
func IndexKey(i int) []byte {
	return rlp.AppendUint64(nil, uint64(i))
}

// IndexedTrie builds a block-style trie mapping rlp(i) to values[i].
func IndexedTrie(values [][]byte) *Trie {
	t := New()
	for i, v := range values {
		t.Update(IndexKey(i), v)
	}
	return t
}
