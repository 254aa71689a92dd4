// validator_set.go keeps the validator set history of the relayed chain.
// Sets are keyed by the first block of the epoch they were announced in and
// are never removed.
package light

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bscrelay/bscrelay/consensus/parlia"
)

// Validator set errors.
var (
	ErrValidatorSetConflict = errors.New("light: conflicting validator set for epoch")
	ErrNotEpochStart        = errors.New("light: block is not an epoch boundary")
	ErrEmptyValidatorSet    = errors.New("light: empty validator set")
	ErrDuplicateValidator   = errors.New("light: duplicate validator address")
)

// ValidatorSet is an ordered list of distinct validator addresses.
type ValidatorSet []common.Address

// Contains reports whether addr is a member of the set.
func (s ValidatorSet) Contains(addr common.Address) bool {
	return slices.Contains(s, addr)
}

// Equal reports whether both sets list the same addresses in the same order.
func (s ValidatorSet) Equal(other ValidatorSet) bool {
	return slices.Equal(s, other)
}

// validate checks that the set is non-empty and free of duplicates.
func (s ValidatorSet) validate() error {
	if len(s) == 0 {
		return ErrEmptyValidatorSet
	}
	seen := make(map[common.Address]struct{}, len(s))
	for _, addr := range s {
		if _, ok := seen[addr]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateValidator, addr.Hex())
		}
		seen[addr] = struct{}{}
	}
	return nil
}

// ValidatorSetStore maps epoch start blocks to validator sets. It is not
// safe for concurrent use; the Relay serialises access.
type ValidatorSetStore struct {
	sets   map[uint64]ValidatorSet
	epochs []uint64 // sorted ascending
}

// NewValidatorSetStore creates an empty store.
func NewValidatorSetStore() *ValidatorSetStore {
	return &ValidatorSetStore{sets: make(map[uint64]ValidatorSet)}
}

// ActiveSetFor returns the set governing block number: the set recorded for
// its epoch, or the most recent earlier one when the epoch's own set has not
// been recorded yet. The epoch the set was recorded under is returned too.
func (s *ValidatorSetStore) ActiveSetFor(number uint64) (ValidatorSet, uint64, bool) {
	epoch := parlia.EpochStart(number)
	// Index of the first recorded epoch after the target one.
	i := sort.Search(len(s.epochs), func(i int) bool { return s.epochs[i] > epoch })
	if i == 0 {
		return nil, 0, false
	}
	at := s.epochs[i-1]
	return s.sets[at], at, true
}

// SetAt returns the set recorded exactly at epochStart.
func (s *ValidatorSetStore) SetAt(epochStart uint64) (ValidatorSet, bool) {
	set, ok := s.sets[epochStart]
	return set, ok
}

// RecordSetFor stores the set announced at epochStart. Recording identical
// data again is a no-op and reports false; different data for an already
// recorded epoch fails with ErrValidatorSetConflict.
func (s *ValidatorSetStore) RecordSetFor(epochStart uint64, set ValidatorSet) (bool, error) {
	if !parlia.IsEpoch(epochStart) {
		return false, fmt.Errorf("%w: %d", ErrNotEpochStart, epochStart)
	}
	if existing, ok := s.sets[epochStart]; ok {
		if existing.Equal(set) {
			return false, nil
		}
		return false, fmt.Errorf("%w: epoch %d", ErrValidatorSetConflict, epochStart)
	}
	s.sets[epochStart] = slices.Clone(set)
	i, _ := slices.BinarySearch(s.epochs, epochStart)
	s.epochs = slices.Insert(s.epochs, i, epochStart)
	return true, nil
}

// Epochs returns the recorded epoch starts in ascending order.
func (s *ValidatorSetStore) Epochs() []uint64 {
	return slices.Clone(s.epochs)
}

// Len returns the number of recorded sets.
func (s *ValidatorSetStore) Len() int {
	return len(s.epochs)
}

// Copy returns an independent copy. Recorded sets are never mutated, so the
// address slices are shared.
func (s *ValidatorSetStore) Copy() *ValidatorSetStore {
	cpy := &ValidatorSetStore{
		sets:   make(map[uint64]ValidatorSet, len(s.sets)),
		epochs: slices.Clone(s.epochs),
	}
	for k, v := range s.sets {
		cpy.sets[k] = v
	}
	return cpy
}

// ChooseBootstrapSet picks the validator set to initialise the relay with
// when the genesis block lies inside an epoch. A new set only takes over
// once half of the previous set has sealed a block after the boundary, so
// the previous set is used while fewer than len(previous)/2 blocks have
// passed since the boundary.
func ChooseBootstrapSet(genesisNumber uint64, current, previous ValidatorSet) ValidatorSet {
	diff := genesisNumber % parlia.EpochLength
	if len(previous) > 0 && 2*diff < uint64(len(previous)) {
		return previous
	}
	return current
}
