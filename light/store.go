package light

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
)

// Database key layout:
//
//	"h" + hash        -> RLP(StoredHeader)
//	"n" + num (be64)  -> hash of the first header accepted at num
//	"v" + epoch (be64)-> RLP([]address)
//	"H"               -> head hash + num (be64)
//	"G"               -> genesis hash + num (be64)
var (
	headerPrefix    = []byte("h")
	numberPrefix    = []byte("n")
	validatorPrefix = []byte("v")
	headKey         = []byte("H")
	genesisKey      = []byte("G")
)

// ErrCorruptStore is returned when persisted data cannot be decoded.
var ErrCorruptStore = errors.New("light: corrupt relay database")

func encodeNumber(n uint64) []byte {
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], n)
	return enc[:]
}

func headerKey(hash common.Hash) []byte {
	return append(append([]byte{}, headerPrefix...), hash[:]...)
}

func numberKey(n uint64) []byte {
	return append(append([]byte{}, numberPrefix...), encodeNumber(n)...)
}

func validatorKey(epoch uint64) []byte {
	return append(append([]byte{}, validatorPrefix...), encodeNumber(epoch)...)
}

func encodeRef(ref BlockRef) []byte {
	return append(ref.Hash.Bytes(), encodeNumber(ref.Number)...)
}

func decodeRef(enc []byte) (BlockRef, error) {
	if len(enc) != common.HashLength+8 {
		return BlockRef{}, fmt.Errorf("%w: block reference of %d bytes", ErrCorruptStore, len(enc))
	}
	return BlockRef{
		Hash:   common.BytesToHash(enc[:common.HashLength]),
		Number: binary.BigEndian.Uint64(enc[common.HashLength:]),
	}, nil
}

// Store persists the relay state in a key-value database. Every transaction
// is written through a single batch.
type Store struct {
	db ethdb.KeyValueStore
}

// NewStore wraps db.
func NewStore(db ethdb.KeyValueStore) *Store {
	return &Store{db: db}
}

// Load reads the full relay state. An empty database yields an
// uninitialised state.
func (s *Store) Load() (*RelayState, error) {
	state := newRelayState()

	if ok, err := s.db.Has(genesisKey); err != nil {
		return nil, fmt.Errorf("light: read genesis: %w", err)
	} else if !ok {
		return state, nil
	}
	genesis, err := s.db.Get(genesisKey)
	if err != nil {
		return nil, fmt.Errorf("light: read genesis: %w", err)
	}
	if state.genesis, err = decodeRef(genesis); err != nil {
		return nil, err
	}
	head, err := s.db.Get(headKey)
	if err != nil {
		return nil, fmt.Errorf("light: read head: %w", err)
	}
	if state.head, err = decodeRef(head); err != nil {
		return nil, err
	}
	state.ready = true

	if err := s.loadHeaders(state); err != nil {
		return nil, err
	}
	if err := s.loadNumbers(state); err != nil {
		return nil, err
	}
	if err := s.loadValidators(state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) loadHeaders(state *RelayState) error {
	it := s.db.NewIterator(headerPrefix, nil)
	defer it.Release()
	for it.Next() {
		h := new(StoredHeader)
		if err := rlp.DecodeBytes(it.Value(), h); err != nil {
			return fmt.Errorf("%w: header %x: %v", ErrCorruptStore, it.Key()[1:], err)
		}
		state.headers[h.Hash] = h
	}
	return it.Error()
}

func (s *Store) loadNumbers(state *RelayState) error {
	it := s.db.NewIterator(numberPrefix, nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != 9 || len(it.Value()) != common.HashLength {
			return fmt.Errorf("%w: number index entry %x", ErrCorruptStore, key)
		}
		state.byNumber[binary.BigEndian.Uint64(key[1:])] = common.BytesToHash(it.Value())
	}
	return it.Error()
}

func (s *Store) loadValidators(state *RelayState) error {
	it := s.db.NewIterator(validatorPrefix, nil)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		if len(key) != 9 {
			return fmt.Errorf("%w: validator key %x", ErrCorruptStore, key)
		}
		var set []common.Address
		if err := rlp.DecodeBytes(it.Value(), &set); err != nil {
			return fmt.Errorf("%w: validator set %x: %v", ErrCorruptStore, key, err)
		}
		if _, err := state.validators.RecordSetFor(binary.BigEndian.Uint64(key[1:]), set); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptStore, err)
		}
	}
	return it.Error()
}

// Commit writes everything tx changed in one batch.
func (s *Store) Commit(tx *stateTx) error {
	batch := s.db.NewBatch()
	for _, h := range tx.order {
		enc, err := rlp.EncodeToBytes(h)
		if err != nil {
			return fmt.Errorf("light: encode header %s: %w", h.Hash.Hex(), err)
		}
		if err := batch.Put(headerKey(h.Hash), enc); err != nil {
			return err
		}
	}
	for num, hash := range tx.numbered() {
		if err := batch.Put(numberKey(num), hash.Bytes()); err != nil {
			return err
		}
	}
	sets := tx.validatorSets()
	for _, epoch := range tx.newEpochs {
		set, _ := sets.SetAt(epoch)
		enc, err := rlp.EncodeToBytes([]common.Address(set))
		if err != nil {
			return fmt.Errorf("light: encode validator set %d: %w", epoch, err)
		}
		if err := batch.Put(validatorKey(epoch), enc); err != nil {
			return err
		}
	}
	if tx.ready && !tx.base.ready {
		if err := batch.Put(genesisKey, encodeRef(tx.genesis)); err != nil {
			return err
		}
	}
	if tx.head != tx.base.head || !tx.base.ready {
		if err := batch.Put(headKey, encodeRef(tx.head)); err != nil {
			return err
		}
	}
	return batch.Write()
}
