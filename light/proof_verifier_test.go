package light

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/bscrelay/bscrelay/consensus/parlia/parliatest"
	"github.com/bscrelay/bscrelay/trie/trietest"
)

// proofBlock is an accepted block whose transactions and receipts roots
// commit to real tries.
type proofBlock struct {
	block    *parliatest.Block
	txs      [][]byte
	receipts [][]byte
	txTrie   *trietest.Trie
	rcTrie   *trietest.Trie
}

func signedTransactions(t *testing.T, n int) [][]byte {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := types.NewEIP155Signer(big.NewInt(56))
	out := make([][]byte, n)
	for i := range out {
		tx, err := types.SignTx(types.NewTransaction(uint64(i), common.HexToAddress("0xbeef"), big.NewInt(int64(i+1)), 21000, big.NewInt(3e9), []byte{byte(i)}), signer, key)
		require.NoError(t, err)
		out[i], err = tx.MarshalBinary()
		require.NoError(t, err)
	}
	return out
}

func receipts(t *testing.T, n int) [][]byte {
	t.Helper()
	out := make([][]byte, n)
	for i := range out {
		r := &types.Receipt{Status: types.ReceiptStatusSuccessful, CumulativeGasUsed: uint64(21000 * (i + 1)), Logs: []*types.Log{}}
		enc, err := r.MarshalBinary()
		require.NoError(t, err)
		out[i] = enc
	}
	return out
}

// newProofRelay accepts a few headers, one of which carries real roots.
func newProofRelay(t *testing.T) (*Relay, *proofBlock) {
	t.Helper()
	r, chain := newTestRelay(t, 5)

	pb := &proofBlock{txs: signedTransactions(t, 20), receipts: receipts(t, 20)}
	pb.txTrie = trietest.IndexedTrie(pb.txs)
	pb.rcTrie = trietest.IndexedTrie(pb.receipts)

	blocks := chain.Extend(3)
	pb.block = chain.AddBlock(func(h *types.Header) {
		h.TxHash = pb.txTrie.Root()
		h.ReceiptHash = pb.rcTrie.Root()
	})
	blocks = append(blocks, pb.block)
	blocks = append(blocks, chain.Extend(2)...)

	unsigned, signed := parliatest.Encodings(blocks)
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))
	return r, pb
}

func TestVerifyTransaction(t *testing.T) {
	r, pb := newProofRelay(t)
	hash := pb.block.Hash()

	for i, tx := range pb.txs {
		key := trietest.IndexKey(i)
		ok, err := r.VerifyTransaction(hash, tx, key, pb.txTrie.Prove(key))
		require.NoError(t, err)
		require.True(t, ok, "tx %d", i)
	}
}

func TestVerifyTransaction_CorruptValue(t *testing.T) {
	r, pb := newProofRelay(t)
	hash := pb.block.Hash()
	key := trietest.IndexKey(7)
	proof := pb.txTrie.Prove(key)

	for pos := range pb.txs[7] {
		bad := bytes.Clone(pb.txs[7])
		bad[pos] ^= 0xff
		ok, err := r.VerifyTransaction(hash, bad, key, proof)
		require.NoError(t, err)
		require.False(t, ok, "byte %d flipped", pos)
	}
}

func TestVerifyTransaction_CorruptNode(t *testing.T) {
	r, pb := newProofRelay(t)
	hash := pb.block.Hash()
	key := trietest.IndexKey(3)
	proof := pb.txTrie.Prove(key)

	for n := range proof {
		for pos := range proof[n] {
			bad := make([][]byte, len(proof))
			copy(bad, proof)
			bad[n] = bytes.Clone(proof[n])
			bad[n][pos] ^= 0x01
			ok, err := r.VerifyTransaction(hash, pb.txs[3], key, bad)
			require.NoError(t, err)
			require.False(t, ok, "node %d byte %d flipped", n, pos)
		}
	}
}

func TestVerifyTransaction_WrongPathOrProof(t *testing.T) {
	r, pb := newProofRelay(t)
	hash := pb.block.Hash()
	key := trietest.IndexKey(2)
	proof := pb.txTrie.Prove(key)

	cases := map[string]struct {
		value []byte
		key   []byte
		nodes [][]byte
	}{
		"other key":   {pb.txs[2], trietest.IndexKey(5), proof},
		"no nodes":    {pb.txs[2], key, nil},
		"truncated":   {pb.txs[2], key, proof[:len(proof)-1]},
		"extra node":  {pb.txs[2], key, append(append([][]byte{}, proof...), proof[0])},
		"other value": {pb.txs[5], key, proof},
		"empty value": {nil, key, proof},
	}
	for name, c := range cases {
		ok, err := r.VerifyTransaction(hash, c.value, c.key, c.nodes)
		require.NoError(t, err, name)
		require.False(t, ok, name)
	}
}

func TestVerifyReceipt(t *testing.T) {
	r, pb := newProofRelay(t)
	hash := pb.block.Hash()

	for i, rc := range pb.receipts {
		key := trietest.IndexKey(i)
		ok, err := r.VerifyReceipt(hash, rc, key, pb.rcTrie.Prove(key))
		require.NoError(t, err)
		require.True(t, ok, "receipt %d", i)
	}

	// A transaction proof is not a receipt proof.
	key := trietest.IndexKey(0)
	ok, err := r.VerifyReceipt(hash, pb.txs[0], key, pb.txTrie.Prove(key))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_UnknownHeader(t *testing.T) {
	r, pb := newProofRelay(t)
	key := trietest.IndexKey(0)
	proof := pb.txTrie.Prove(key)

	_, err := r.VerifyTransaction(common.HexToHash("0xdead"), pb.txs[0], key, proof)
	require.ErrorIs(t, err, ErrUnknownHeader)
	_, err = r.VerifyReceipt(common.HexToHash("0xdead"), pb.receipts[0], key, pb.rcTrie.Prove(key))
	require.ErrorIs(t, err, ErrUnknownHeader)

	// The genesis is only a reference and cannot anchor proofs.
	genesis, err := r.Genesis()
	require.NoError(t, err)
	_, err = r.VerifyTransaction(genesis.Hash, pb.txs[0], key, proof)
	require.ErrorIs(t, err, ErrUnknownHeader)
}

func TestParseHeaderRef(t *testing.T) {
	_, pb := newProofRelay(t)

	got, err := ParseHeaderRef(pb.block.Hash().Bytes())
	require.NoError(t, err)
	require.Equal(t, pb.block.Hash(), got)

	got, err = ParseHeaderRef(pb.block.Signed)
	require.NoError(t, err)
	require.Equal(t, pb.block.Hash(), got, "full header hashes to the block hash")

	_, err = ParseHeaderRef(nil)
	require.ErrorIs(t, err, ErrUnknownHeader)
}

func TestProofKind_String(t *testing.T) {
	require.Equal(t, "transaction", TransactionProof.String())
	require.Equal(t, "receipt", ReceiptProof.String())
	require.Equal(t, "ProofKind(7)", ProofKind(7).String())
}
