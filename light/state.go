// state.go holds the RelayState aggregate and the scratch transaction every
// mutation runs in. A transaction reads through to the committed state and
// buffers its own writes; it is either applied in full or dropped.
package light

import (
	"maps"

	"github.com/ethereum/go-ethereum/common"
)

// RelayState is the committed relay state: accepted headers, the head, the
// genesis reference and the validator set history.
type RelayState struct {
	headers    map[common.Hash]*StoredHeader
	byNumber   map[uint64]common.Hash // first accepted header per height
	head       BlockRef
	genesis    BlockRef
	validators *ValidatorSetStore
	ready      bool
}

// newRelayState returns an uninitialised state.
func newRelayState() *RelayState {
	return &RelayState{
		headers:    make(map[common.Hash]*StoredHeader),
		byNumber:   make(map[uint64]common.Hash),
		validators: NewValidatorSetStore(),
	}
}

// begin opens a scratch transaction on top of s.
func (s *RelayState) begin() *stateTx {
	return &stateTx{
		base:    s,
		headers: make(map[common.Hash]*StoredHeader),
		head:    s.head,
		genesis: s.genesis,
		ready:   s.ready,
	}
}

// apply merges a finished transaction into s.
func (s *RelayState) apply(tx *stateTx) {
	for _, h := range tx.order {
		s.headers[h.Hash] = h
		if _, ok := s.byNumber[h.Number]; !ok {
			s.byNumber[h.Number] = h.Hash
		}
	}
	if tx.validators != nil {
		s.validators = tx.validators
	}
	s.head = tx.head
	s.genesis = tx.genesis
	s.ready = tx.ready
}

// stateTx is a scratch overlay over a RelayState.
type stateTx struct {
	base *RelayState

	headers map[common.Hash]*StoredHeader
	order   []*StoredHeader
	byNum   map[uint64]common.Hash

	// validators is a private copy, made on the first set recorded.
	validators *ValidatorSetStore
	newEpochs  []uint64

	head    BlockRef
	genesis BlockRef
	ready   bool
}

// header looks a hash up in the overlay, then in the committed state.
func (tx *stateTx) header(hash common.Hash) (*StoredHeader, bool) {
	if h, ok := tx.headers[hash]; ok {
		return h, true
	}
	h, ok := tx.base.headers[hash]
	return h, ok
}

// known reports whether hash is an accepted header or the genesis.
func (tx *stateTx) known(hash common.Hash) bool {
	if tx.ready && hash == tx.genesis.Hash {
		return true
	}
	_, ok := tx.header(hash)
	return ok
}

// addHeader buffers an accepted header and advances the head.
func (tx *stateTx) addHeader(h *StoredHeader) {
	tx.headers[h.Hash] = h
	tx.order = append(tx.order, h)
	if _, ok := tx.base.byNumber[h.Number]; !ok {
		if tx.byNum == nil {
			tx.byNum = make(map[uint64]common.Hash)
		}
		if _, ok := tx.byNum[h.Number]; !ok {
			tx.byNum[h.Number] = h.Hash
		}
	}
	if h.Number > tx.head.Number {
		tx.head = h.Ref()
	}
}

// numbered returns the heights first reached by this transaction.
func (tx *stateTx) numbered() map[uint64]common.Hash {
	return maps.Clone(tx.byNum)
}

func (tx *stateTx) validatorSets() *ValidatorSetStore {
	if tx.validators != nil {
		return tx.validators
	}
	return tx.base.validators
}

// activeSetFor resolves the set governing number as of this transaction.
func (tx *stateTx) activeSetFor(number uint64) (ValidatorSet, bool) {
	set, _, ok := tx.validatorSets().ActiveSetFor(number)
	return set, ok
}

// recordSet records a validator set, copying the committed store first.
func (tx *stateTx) recordSet(epochStart uint64, set ValidatorSet) error {
	if tx.validators == nil {
		if existing, ok := tx.base.validators.SetAt(epochStart); ok && existing.Equal(set) {
			return nil
		}
		tx.validators = tx.base.validators.Copy()
	}
	added, err := tx.validators.RecordSetFor(epochStart, set)
	if err != nil {
		return err
	}
	if added {
		tx.newEpochs = append(tx.newEpochs, epochStart)
	}
	return nil
}

// empty reports whether the transaction changed nothing.
func (tx *stateTx) empty() bool {
	return len(tx.order) == 0 && len(tx.newEpochs) == 0 && tx.ready == tx.base.ready
}
