package rpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/bscrelay/bscrelay/light"
	"github.com/bscrelay/bscrelay/log"
)

// RelayAPI exposes a light.Relay in the relay namespace.
type RelayAPI struct {
	relay *light.Relay
	log   *log.Logger
}

// NewRelayAPI creates the API for relay.
func NewRelayAPI(relay *light.Relay, logger *log.Logger) *RelayAPI {
	if logger == nil {
		logger = log.Default()
	}
	return &RelayAPI{relay: relay, log: logger.Module("rpc")}
}

// SubmitBlockHeader submits one header as its seal encoding and its full
// RLP encoding.
func (api *RelayAPI) SubmitBlockHeader(unsigned, signed hexutil.Bytes) error {
	return wrapError(api.relay.SubmitBlockHeader(unsigned, signed))
}

// SubmitBlockHeaderBatch submits headers atomically.
func (api *RelayAPI) SubmitBlockHeaderBatch(unsigned, signed []hexutil.Bytes) error {
	err := api.relay.SubmitBlockHeaderBatch(toBytes(unsigned), toBytes(signed))
	if err != nil {
		api.log.Debug("Header batch rejected", "size", len(signed), "err", err)
	}
	return wrapError(err)
}

// VerifyTransaction checks a transaction trie proof. headerRef is a block
// hash or a full RLP header.
func (api *RelayAPI) VerifyTransaction(headerRef, value, key hexutil.Bytes, nodes []hexutil.Bytes) (bool, error) {
	hash, err := light.ParseHeaderRef(headerRef)
	if err != nil {
		return false, wrapError(err)
	}
	ok, err := api.relay.VerifyTransaction(hash, value, key, toBytes(nodes))
	return ok, wrapError(err)
}

// VerifyReceipt checks a receipt trie proof. headerRef is a block hash or a
// full RLP header.
func (api *RelayAPI) VerifyReceipt(headerRef, value, key hexutil.Bytes, nodes []hexutil.Bytes) (bool, error) {
	hash, err := light.ParseHeaderRef(headerRef)
	if err != nil {
		return false, wrapError(err)
	}
	ok, err := api.relay.VerifyReceipt(hash, value, key, toBytes(nodes))
	return ok, wrapError(err)
}

// Head returns the highest accepted block.
func (api *RelayAPI) Head() (*BlockRef, error) {
	ref, err := api.relay.Head()
	if err != nil {
		return nil, wrapError(err)
	}
	return newBlockRef(ref), nil
}

// Genesis returns the relay genesis reference.
func (api *RelayAPI) Genesis() (*BlockRef, error) {
	ref, err := api.relay.Genesis()
	if err != nil {
		return nil, wrapError(err)
	}
	return newBlockRef(ref), nil
}

// GetHeaderByHash returns an accepted header, or null.
func (api *RelayAPI) GetHeaderByHash(hash common.Hash) *Header {
	return newHeader(api.relay.GetHeader(hash))
}

// GetHeaderByNumber returns the first header accepted at number, or null.
func (api *RelayAPI) GetHeaderByNumber(number hexutil.Uint64) *Header {
	return newHeader(api.relay.GetHeaderByNumber(uint64(number)))
}

// Validators returns the validator set that signs block number.
func (api *RelayAPI) Validators(number hexutil.Uint64) ([]common.Address, error) {
	set, ok := api.relay.ValidatorsAt(uint64(number))
	if !ok {
		return nil, wrapError(light.ErrNotInitialized)
	}
	return set, nil
}

// HeaderCount returns the number of accepted headers.
func (api *RelayAPI) HeaderCount() hexutil.Uint64 {
	return hexutil.Uint64(api.relay.HeaderCount())
}
