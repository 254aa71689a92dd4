package light

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"github.com/bscrelay/bscrelay/consensus/parlia"
	"github.com/bscrelay/bscrelay/consensus/parlia/parliatest"
)

// newTestRelay returns an initialised in-memory relay and a chain generator
// sharing its genesis and validator set.
func newTestRelay(t *testing.T, numValidators int) (*Relay, *parliatest.Chain) {
	t.Helper()
	vals := parliatest.NewValidators(numValidators)
	chain := parliatest.NewDefaultChain(vals)
	r := New(DefaultConfig(), nil)
	require.NoError(t, r.Initialize(parliatest.Addresses(vals), chain.GenesisHash, chain.GenesisNumber))
	return r, chain
}

func requireHead(t *testing.T, r *Relay, want BlockRef) {
	t.Helper()
	head, err := r.Head()
	require.NoError(t, err)
	require.Equal(t, want, head)
}

func genesisRef(c *parliatest.Chain) BlockRef {
	return BlockRef{Hash: c.GenesisHash, Number: c.GenesisNumber}
}

func ref(b *parliatest.Block) BlockRef {
	return BlockRef{Hash: b.Hash(), Number: b.Header.Number.Uint64()}
}

func TestRelay_BatchAccepted(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	blocks := chain.Extend(14)
	unsigned, signed := parliatest.Encodings(blocks)

	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))
	requireHead(t, r, ref(blocks[13]))
	require.Equal(t, 14, r.HeaderCount())

	for _, b := range blocks {
		h := r.GetHeader(b.Hash())
		require.NotNil(t, h)
		require.Equal(t, b.Signer, h.Signer)
		require.Equal(t, b.Header.Number.Uint64(), h.Number)
		require.Equal(t, b.Header.TxHash, h.TxHash)
		require.Equal(t, h, r.GetHeaderByNumber(h.Number))
	}
	require.Nil(t, r.GetHeaderByNumber(chain.GenesisNumber), "genesis has no stored body")
}

func TestRelay_SingleSubmissions(t *testing.T) {
	r, chain := newTestRelay(t, 3)
	for i, b := range chain.Extend(10) {
		require.NoError(t, r.SubmitBlockHeader(b.Unsigned, b.Signed), "block %d", i)
		requireHead(t, r, ref(b))
	}
}

func TestRelay_EmptyBatch(t *testing.T) {
	r, chain := newTestRelay(t, 3)
	require.NoError(t, r.SubmitBlockHeaderBatch(nil, nil))
	requireHead(t, r, genesisRef(chain))
}

func TestRelay_SignatureEnvelopeMismatch(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	blocks := chain.Extend(3)
	require.NoError(t, r.SubmitBlockHeader(blocks[0].Unsigned, blocks[0].Signed))

	err := r.SubmitBlockHeader(blocks[1].Unsigned, blocks[2].Signed)
	require.ErrorIs(t, err, ErrSignatureEnvelopeMismatch)
	require.Equal(t, 1, r.HeaderCount())
}

func TestRelay_WrongChainID(t *testing.T) {
	vals := parliatest.NewValidators(3)
	chain := parliatest.NewChain(parlia.ChapelChainID, parliatest.DefaultGenesisHash, parliatest.DefaultGenesisNumber, vals)
	r := New(DefaultConfig(), nil) // mainnet chain id
	require.NoError(t, r.Initialize(parliatest.Addresses(vals), chain.GenesisHash, chain.GenesisNumber))

	b := chain.Extend(1)[0]
	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, b.Signed), ErrSignatureEnvelopeMismatch)
}

func TestRelay_DuplicateBlock(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	b := chain.Extend(1)[0]

	require.NoError(t, r.SubmitBlockHeader(b.Unsigned, b.Signed))
	err := r.SubmitBlockHeader(b.Unsigned, b.Signed)
	require.ErrorIs(t, err, ErrDuplicateBlock)
	require.Equal(t, 1, r.HeaderCount())
	requireHead(t, r, ref(b))
}

func TestRelay_DuplicateInBatch(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	blocks := chain.Extend(2)
	unsigned, signed := parliatest.Encodings([]*parliatest.Block{blocks[0], blocks[1], blocks[1]})

	err := r.SubmitBlockHeaderBatch(unsigned, signed)
	require.ErrorIs(t, err, ErrDuplicateBlock)
	require.Contains(t, err.Error(), "batch header 2")
	require.Zero(t, r.HeaderCount())
}

func TestRelay_MissingParent(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	blocks := chain.Extend(3)
	require.NoError(t, r.SubmitBlockHeader(blocks[0].Unsigned, blocks[0].Signed))

	err := r.SubmitBlockHeader(blocks[2].Unsigned, blocks[2].Signed)
	require.ErrorIs(t, err, ErrMissingParent)
	require.Nil(t, r.GetHeader(blocks[2].Hash()))
}

func TestRelay_InvalidMixHash(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	bad := chain.AddBlock(func(h *types.Header) { h.MixDigest = common.HexToHash("0x01") })
	require.ErrorIs(t, r.SubmitBlockHeader(bad.Unsigned, bad.Signed), ErrInvalidMixHash)
	require.Zero(t, r.HeaderCount())
}

func TestRelay_InvalidDifficulty(t *testing.T) {
	for _, d := range []int64{0, 3, 1 << 40} {
		r, chain := newTestRelay(t, 5)
		bad := chain.AddBlock(func(h *types.Header) { h.Difficulty = big.NewInt(d) })
		require.ErrorIs(t, r.SubmitBlockHeader(bad.Unsigned, bad.Signed), ErrInvalidDifficulty, "difficulty %d", d)
	}
	// Both in-turn (2) and out-of-turn (1) difficulties are accepted.
	r, chain := newTestRelay(t, 5)
	b := chain.AddBlock(func(h *types.Header) { h.Difficulty = big.NewInt(1) })
	require.NoError(t, r.SubmitBlockHeader(b.Unsigned, b.Signed))
}

func TestRelay_UnauthorizedSigner(t *testing.T) {
	r, _ := newTestRelay(t, 5)

	// Same genesis, different validators: every field is valid but the
	// signer is unknown to the relay.
	outsiders := parliatest.NewDefaultChain(parliatest.NewValidators(3))
	b := outsiders.Extend(1)[0]

	err := r.SubmitBlockHeader(b.Unsigned, b.Signed)
	require.ErrorIs(t, err, ErrUnauthorizedSigner)
	require.Zero(t, r.HeaderCount())
}

func TestRelay_UnrecoverableSignature(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	b := chain.Extend(1)[0]

	header := types.CopyHeader(b.Header)
	header.Extra[len(header.Extra)-1] = 9 // invalid recovery id
	signed, err := rlp.EncodeToBytes(header)
	require.NoError(t, err)

	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, signed), ErrUnauthorizedSigner)
}

func TestRelay_MalformedHeader(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	b := chain.Extend(1)[0]

	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, []byte{0x01, 0x02}), ErrMalformedHeader)

	short := types.CopyHeader(b.Header)
	short.Extra = make([]byte, parlia.MinExtraLength-1)
	signed, err := rlp.EncodeToBytes(short)
	require.NoError(t, err)
	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, signed), ErrMalformedExtraData)
}

func TestRelay_BatchLengthMismatch(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	unsigned, signed := parliatest.Encodings(chain.Extend(4))

	err := r.SubmitBlockHeaderBatch(unsigned, signed[:3])
	require.ErrorIs(t, err, ErrBatchLengthMismatch)
	require.Zero(t, r.HeaderCount())
	requireHead(t, r, genesisRef(chain))
}

func TestRelay_BatchRollback(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	blocks := chain.Extend(6)
	unsigned, signed := parliatest.Encodings(blocks)
	unsigned[4] = unsigned[3] // envelope mismatch at index 4

	err := r.SubmitBlockHeaderBatch(unsigned, signed)
	require.ErrorIs(t, err, ErrSignatureEnvelopeMismatch)
	require.Contains(t, err.Error(), "batch header 4")

	require.Zero(t, r.HeaderCount(), "no header of a failed batch is kept")
	requireHead(t, r, genesisRef(chain))
	for _, b := range blocks {
		require.Nil(t, r.GetHeader(b.Hash()))
	}

	// The untouched batch goes through afterwards.
	unsigned, signed = parliatest.Encodings(blocks)
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))
	requireHead(t, r, ref(blocks[5]))
}

func TestRelay_EpochRotation(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	oldSet := chain.Validators
	newSet := parliatest.NewValidators(4)
	chain.Next = newSet

	// Genesis 12928775: the boundary 12928800 is the 25th block.
	blocks := chain.Extend(40)
	boundary := blocks[24]
	require.Equal(t, uint64(12928800), boundary.Header.Number.Uint64())
	require.Contains(t, parliatest.Addresses(oldSet), boundary.Signer, "boundary sealed by outgoing set")
	require.Contains(t, parliatest.Addresses(newSet), blocks[25].Signer)

	unsigned, signed := parliatest.Encodings(blocks)
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))
	requireHead(t, r, ref(blocks[39]))

	set, ok := r.ValidatorsAt(12928799)
	require.True(t, ok)
	require.Equal(t, ValidatorSet(parliatest.Addresses(oldSet)), set)

	set, ok = r.ValidatorsAt(12928801)
	require.True(t, ok)
	require.Equal(t, ValidatorSet(parliatest.Addresses(newSet)), set)

	// The next boundary has not been seen yet: the latest set still rules.
	set, _ = r.ValidatorsAt(12929000)
	require.Equal(t, ValidatorSet(parliatest.Addresses(newSet)), set)
}

func TestRelay_RotatedOutSignerRejected(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	oldSet := chain.Validators
	chain.Next = parliatest.NewValidators(4)

	unsigned, signed := parliatest.Encodings(chain.Extend(25)) // up to the boundary
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))

	// Seal the block after the boundary with the outgoing set.
	incoming := chain.Validators
	chain.Validators = oldSet
	stale := chain.AddBlock(nil)
	chain.Validators = incoming

	require.ErrorIs(t, r.SubmitBlockHeader(stale.Unsigned, stale.Signed), ErrUnauthorizedSigner)
}

func TestRelay_BoundarySealedByIncomingSetRejected(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	unsigned, signed := parliatest.Encodings(chain.Extend(24))
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))

	// The boundary header itself is checked against the outgoing set.
	incoming := parliatest.NewValidators(3)
	chain.Validators, chain.Next = incoming, incoming
	b := chain.AddBlock(nil)
	require.True(t, parlia.IsEpoch(b.Header.Number.Uint64()))
	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, b.Signed), ErrUnauthorizedSigner)
	_, ok := r.state.validators.SetAt(b.Header.Number.Uint64())
	require.False(t, ok, "rejected boundary must not record a set")
}

func TestRelay_EpochHeaderWithoutValidators(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	unsigned, signed := parliatest.Encodings(chain.Extend(24))
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))

	b := chain.AddBlock(func(h *types.Header) { h.Extra = parlia.BuildExtra(nil, nil, nil) })
	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, b.Signed), ErrMalformedExtraData)
}

func TestRelay_EpochHeaderWithRaggedValidators(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	unsigned, signed := parliatest.Encodings(chain.Extend(24))
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))

	b := chain.AddBlock(func(h *types.Header) {
		h.Extra = append(make([]byte, parlia.ExtraVanity+21), make([]byte, parlia.ExtraSeal)...)
	})
	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, b.Signed), ErrMalformedExtraData)
}

func TestRelay_NotInitialized(t *testing.T) {
	r := New(DefaultConfig(), nil)
	chain := parliatest.NewDefaultChain(parliatest.NewValidators(3))
	b := chain.Extend(1)[0]

	require.ErrorIs(t, r.SubmitBlockHeader(b.Unsigned, b.Signed), ErrNotInitialized)
	require.ErrorIs(t, r.SubmitBlockHeaderBatch([][]byte{b.Unsigned}, [][]byte{b.Signed}), ErrNotInitialized)
	_, err := r.Head()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = r.Genesis()
	require.ErrorIs(t, err, ErrNotInitialized)
	require.False(t, r.Initialized())
}

func TestRelay_Initialize(t *testing.T) {
	vals := parliatest.Addresses(parliatest.NewValidators(3))

	r := New(DefaultConfig(), nil)
	require.ErrorIs(t, r.Initialize(nil, parliatest.DefaultGenesisHash, 1), ErrEmptyValidatorSet)
	require.ErrorIs(t, r.Initialize([]common.Address{vals[0], vals[0]}, parliatest.DefaultGenesisHash, 1), ErrDuplicateValidator)
	require.False(t, r.Initialized())

	require.NoError(t, r.Initialize(vals, parliatest.DefaultGenesisHash, parliatest.DefaultGenesisNumber))
	require.True(t, r.Initialized())
	require.ErrorIs(t, r.Initialize(vals, parliatest.DefaultGenesisHash, parliatest.DefaultGenesisNumber), ErrAlreadyInitialized)

	genesis, err := r.Genesis()
	require.NoError(t, err)
	require.Equal(t, BlockRef{Hash: parliatest.DefaultGenesisHash, Number: parliatest.DefaultGenesisNumber}, genesis)
	requireHead(t, r, genesis)

	set, ok := r.ValidatorsAt(parliatest.DefaultGenesisNumber)
	require.True(t, ok)
	require.Equal(t, ValidatorSet(vals), set)
	require.Equal(t, []uint64{parlia.EpochStart(parliatest.DefaultGenesisNumber)}, r.state.validators.Epochs())
}

func TestRelay_GenesisIsDuplicate(t *testing.T) {
	r, chain := newTestRelay(t, 3)
	b := chain.Extend(1)[0]
	require.NoError(t, r.SubmitBlockHeader(b.Unsigned, b.Signed))

	// A relay whose genesis is b refuses to store b itself.
	r2 := New(DefaultConfig(), nil)
	require.NoError(t, r2.Initialize(parliatest.Addresses(chain.Validators), b.Hash(), b.Header.Number.Uint64()))
	require.ErrorIs(t, r2.SubmitBlockHeader(b.Unsigned, b.Signed), ErrDuplicateBlock)
}

func TestRelay_ConcurrentDuplicates(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	b := chain.Extend(1)[0]

	const submitters = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.SubmitBlockHeader(b.Unsigned, b.Signed)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, ErrDuplicateBlock)
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, r.HeaderCount())
}

func TestRelay_ConcurrentReadsDuringSubmission(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	blocks := chain.Extend(60)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			head, err := r.Head()
			if err != nil {
				t.Errorf("Head: %v", err)
				return
			}
			// A batch is all-or-nothing: the head is always a batch end.
			if n := head.Number - chain.GenesisNumber; n%10 != 0 {
				t.Errorf("observed partial batch at %d", head.Number)
				return
			}
		}
	}()
	for i := 0; i < len(blocks); i += 10 {
		unsigned, signed := parliatest.Encodings(blocks[i : i+10])
		require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))
	}
	close(done)
	wg.Wait()
}

func TestRelay_ReopenPersists(t *testing.T) {
	db := memorydb.New()
	vals := parliatest.NewValidators(5)
	chain := parliatest.NewDefaultChain(vals)
	chain.Next = parliatest.NewValidators(4)

	r, err := Open(db, DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, r.Initialize(parliatest.Addresses(vals), chain.GenesisHash, chain.GenesisNumber))
	blocks := chain.Extend(30)
	unsigned, signed := parliatest.Encodings(blocks[:28])
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))

	reopened, err := Open(db, DefaultConfig(), nil)
	require.NoError(t, err)
	require.True(t, reopened.Initialized())
	requireHead(t, reopened, ref(blocks[27]))
	genesis, err := reopened.Genesis()
	require.NoError(t, err)
	require.Equal(t, genesisRef(chain), genesis)
	require.Equal(t, 28, reopened.HeaderCount())
	require.Equal(t, r.state.validators.Epochs(), reopened.state.validators.Epochs())
	for _, b := range blocks[:28] {
		require.Equal(t, r.GetHeader(b.Hash()), reopened.GetHeader(b.Hash()))
		require.Equal(t, b.Hash(), reopened.GetHeaderByNumber(b.Header.Number.Uint64()).Hash)
	}

	// Duplicates are still detected and the chain continues after reopen.
	require.ErrorIs(t, reopened.SubmitBlockHeader(blocks[27].Unsigned, blocks[27].Signed), ErrDuplicateBlock)
	require.NoError(t, reopened.SubmitBlockHeader(blocks[28].Unsigned, blocks[28].Signed))
	require.ErrorIs(t, reopened.Initialize(parliatest.Addresses(vals), chain.GenesisHash, chain.GenesisNumber), ErrAlreadyInitialized)
}

// failingDB fails every batch write.
type failingDB struct {
	*memorydb.Database
}

func (db failingDB) NewBatch() ethdb.Batch {
	return failingBatch{db.Database.NewBatch()}
}

type failingBatch struct {
	ethdb.Batch
}

var errWriteFailed = errors.New("write failed")

func (failingBatch) Write() error { return errWriteFailed }

func TestRelay_FailedWriteKeepsState(t *testing.T) {
	r, chain := newTestRelay(t, 5)
	blocks := chain.Extend(4)
	unsigned, signed := parliatest.Encodings(blocks[:2])
	require.NoError(t, r.SubmitBlockHeaderBatch(unsigned, signed))

	r.store = NewStore(failingDB{memorydb.New()})
	unsigned, signed = parliatest.Encodings(blocks[2:])
	require.ErrorIs(t, r.SubmitBlockHeaderBatch(unsigned, signed), errWriteFailed)
	requireHead(t, r, ref(blocks[1]))
	require.Equal(t, 2, r.HeaderCount())
}
