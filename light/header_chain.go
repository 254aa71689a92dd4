// header_chain.go implements the relay's header chain validator. Headers are
// submitted as a pair of encodings: the seal encoding the validator signed
// and the full RLP header carrying the signature. A header is accepted when
// both encodings describe the same header, it links to a known parent and it
// was sealed by a member of the validator set active at its height.
//
// Every submission (single header or batch) runs in one scratch transaction
// that is written to the database in a single batch, so no partial effect is
// ever observable.
package light

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/holiman/uint256"

	"github.com/bscrelay/bscrelay/consensus/parlia"
	"github.com/bscrelay/bscrelay/crypto"
	"github.com/bscrelay/bscrelay/log"
)

// Header submission errors.
var (
	ErrSignatureEnvelopeMismatch = errors.New("light: unsigned header does not match signed header")
	ErrDuplicateBlock            = errors.New("light: block already stored")
	ErrMissingParent             = errors.New("light: parent block not stored")
	ErrInvalidMixHash            = errors.New("light: non-zero mix hash")
	ErrInvalidDifficulty         = errors.New("light: difficulty must be 1 or 2")
	ErrUnauthorizedSigner        = errors.New("light: signer not in active validator set")
	ErrBatchLengthMismatch       = errors.New("light: unsigned and signed batch lengths differ")
	ErrNotInitialized            = errors.New("light: relay not initialized")
	ErrAlreadyInitialized        = errors.New("light: relay already initialized")

	// ErrMalformedExtraData and ErrMalformedHeader are shared with the
	// parlia package so callers can match either.
	ErrMalformedExtraData = parlia.ErrMalformedExtraData
	ErrMalformedHeader    = parlia.ErrMalformedHeader
)

// Config configures a Relay.
type Config struct {
	// ChainID is the id of the relayed chain, part of every seal hash.
	ChainID uint64
	// SignerCacheSize bounds the recovered signer cache.
	SignerCacheSize int
}

// DefaultConfig returns the configuration for BSC mainnet.
func DefaultConfig() Config {
	return Config{
		ChainID:         parlia.MainnetChainID,
		SignerCacheSize: crypto.DefaultSignerCacheSize,
	}
}

// Relay is the header relay. Mutations are serialised under one writer
// lock; queries take the read lock and only ever observe committed state.
// All methods are safe for concurrent use.
type Relay struct {
	mu      sync.RWMutex
	config  Config
	chainID *uint256.Int
	state   *RelayState
	store   *Store
	signers *crypto.SignerCache
	log     *log.Logger
}

// New creates a relay backed by an in-memory database.
func New(config Config, logger *log.Logger) *Relay {
	r, err := Open(memorydb.New(), config, logger)
	if err != nil {
		// An empty in-memory database always loads.
		panic(err)
	}
	return r
}

// Open creates a relay on top of db, loading any previously committed state.
func Open(db ethdb.KeyValueStore, config Config, logger *log.Logger) (*Relay, error) {
	if config.SignerCacheSize <= 0 {
		config.SignerCacheSize = crypto.DefaultSignerCacheSize
	}
	if logger == nil {
		logger = log.Default()
	}
	store := NewStore(db)
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	r := &Relay{
		config:  config,
		chainID: uint256.NewInt(config.ChainID),
		state:   state,
		store:   store,
		signers: crypto.NewSignerCache(config.SignerCacheSize),
		log:     logger.Module("relay"),
	}
	if state.ready {
		headGauge.Update(int64(state.head.Number))
		validatorSetsGauge.Update(int64(state.validators.Len()))
		r.log.Info("Loaded relay state", "genesis", state.genesis.Number, "head", state.head.Number,
			"headers", len(state.headers), "validatorSets", state.validators.Len())
	}
	return r, nil
}

// Config returns the relay configuration.
func (r *Relay) Config() Config {
	return r.config
}

// Initialize sets the genesis reference and the validator set governing the
// genesis epoch. It can only be called once.
func (r *Relay) Initialize(validators []common.Address, genesisHash common.Hash, genesisNumber uint64) error {
	set := ValidatorSet(validators)
	if err := set.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.ready {
		return ErrAlreadyInitialized
	}
	tx := r.state.begin()
	if err := tx.recordSet(parlia.EpochStart(genesisNumber), set); err != nil {
		return err
	}
	tx.genesis = BlockRef{Hash: genesisHash, Number: genesisNumber}
	tx.head = tx.genesis
	tx.ready = true
	if err := r.commit(tx); err != nil {
		return err
	}
	r.log.Info("Initialized relay", "genesis", genesisNumber, "hash", genesisHash, "validators", len(set))
	return nil
}

// SubmitBlockHeader validates one header and stores it on success.
func (r *Relay) SubmitBlockHeader(unsigned, signed []byte) error {
	defer submitTimer.UpdateSince(time.Now())

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.ready {
		return ErrNotInitialized
	}
	tx := r.state.begin()
	h, err := r.applyHeader(tx, unsigned, signed)
	if err != nil {
		headersRejectedMeter.Mark(1)
		r.log.Debug("Rejected header", "err", err)
		return err
	}
	if err := r.commit(tx); err != nil {
		return err
	}
	r.log.Debug("Accepted header", "number", h.Number, "hash", h.Hash, "signer", h.Signer)
	return nil
}

// SubmitBlockHeaderBatch validates headers in order as one transaction. The
// first failure discards the whole batch; its error names the failing index.
func (r *Relay) SubmitBlockHeaderBatch(unsigned, signed [][]byte) error {
	defer submitTimer.UpdateSince(time.Now())

	if len(unsigned) != len(signed) {
		return fmt.Errorf("%w: %d unsigned, %d signed", ErrBatchLengthMismatch, len(unsigned), len(signed))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.ready {
		return ErrNotInitialized
	}
	tx := r.state.begin()
	for i := range unsigned {
		if _, err := r.applyHeader(tx, unsigned[i], signed[i]); err != nil {
			headersRejectedMeter.Mark(int64(len(unsigned)))
			r.log.Debug("Rejected header batch", "size", len(unsigned), "index", i, "err", err)
			return fmt.Errorf("batch header %d: %w", i, err)
		}
	}
	if tx.empty() {
		return nil
	}
	if err := r.commit(tx); err != nil {
		return err
	}
	r.log.Info("Accepted header batch", "size", len(unsigned), "head", tx.head.Number)
	return nil
}

// applyHeader runs the acceptance checks for one header against tx and
// buffers it there on success.
func (r *Relay) applyHeader(tx *stateTx, unsigned, signed []byte) (*StoredHeader, error) {
	header, err := parlia.DecodeHeader(signed)
	if err != nil {
		return nil, err
	}
	sealHash, err := parlia.SealHash(header, r.chainID)
	if err != nil {
		return nil, err
	}
	if crypto.Keccak256Hash(unsigned) != sealHash {
		return nil, ErrSignatureEnvelopeMismatch
	}
	hash := header.Hash()
	if tx.known(hash) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateBlock, hash.Hex())
	}
	if !tx.known(header.ParentHash) {
		return nil, fmt.Errorf("%w: %s", ErrMissingParent, header.ParentHash.Hex())
	}
	if header.MixDigest != (common.Hash{}) {
		return nil, ErrInvalidMixHash
	}
	if !validDifficulty(header.Difficulty) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDifficulty, header.Difficulty)
	}
	signer, err := r.signers.Recover(sealHash, parlia.Seal(header))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorizedSigner, err)
	}
	number := header.Number.Uint64()
	set, ok := tx.activeSetFor(number)
	if !ok || !set.Contains(signer) {
		return nil, fmt.Errorf("%w: %s at block %d", ErrUnauthorizedSigner, signer.Hex(), number)
	}
	if parlia.IsEpoch(number) {
		next, err := parlia.ExtractValidatorSet(header.Extra)
		if err != nil {
			return nil, err
		}
		if len(next) == 0 {
			return nil, fmt.Errorf("%w: epoch block %d carries no validators", ErrMalformedExtraData, number)
		}
		if err := tx.recordSet(number, next); err != nil {
			return nil, err
		}
	}
	stored := newStoredHeader(header, hash, signer)
	tx.addHeader(stored)
	return stored, nil
}

func validDifficulty(d *big.Int) bool {
	return d.IsUint64() && (d.Uint64() == 1 || d.Uint64() == 2)
}

// commit persists tx and then publishes it in memory. A failed write leaves
// the in-memory state untouched.
func (r *Relay) commit(tx *stateTx) error {
	if err := r.store.Commit(tx); err != nil {
		return fmt.Errorf("light: commit: %w", err)
	}
	for _, epoch := range tx.newEpochs {
		set, _ := tx.validatorSets().SetAt(epoch)
		r.log.Info("Recorded validator set", "epoch", epoch, "validators", len(set))
	}
	r.state.apply(tx)

	headersAcceptedMeter.Mark(int64(len(tx.order)))
	headGauge.Update(int64(r.state.head.Number))
	validatorSetsGauge.Update(int64(r.state.validators.Len()))
	return nil
}

// Initialized reports whether Initialize has completed.
func (r *Relay) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ready
}

// Head returns the highest accepted block, or the genesis when no header has
// been accepted yet.
func (r *Relay) Head() (BlockRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.state.ready {
		return BlockRef{}, ErrNotInitialized
	}
	return r.state.head, nil
}

// Genesis returns the genesis reference.
func (r *Relay) Genesis() (BlockRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.state.ready {
		return BlockRef{}, ErrNotInitialized
	}
	return r.state.genesis, nil
}

// GetHeader returns the accepted header with the given hash, or nil.
func (r *Relay) GetHeader(hash common.Hash) *StoredHeader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.headers[hash]
}

// GetHeaderByNumber returns the first header accepted at number, or nil.
func (r *Relay) GetHeaderByNumber(number uint64) *StoredHeader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hash, ok := r.state.byNumber[number]
	if !ok {
		return nil
	}
	return r.state.headers[hash]
}

// ValidatorsAt returns the validator set that signs block number.
func (r *Relay) ValidatorsAt(number uint64) (ValidatorSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, _, ok := r.state.validators.ActiveSetFor(number)
	return slices.Clone(set), ok
}

// HeaderCount returns the number of accepted headers, genesis excluded.
func (r *Relay) HeaderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.state.headers)
}
