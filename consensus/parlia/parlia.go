// Package parlia implements the header-level rules of the Parlia
// proof-of-staked-authority consensus used by BNB Smart Chain: extra-data
// framing, validator list extraction and the seal (signing) hash.
//
// Extra-data layout:
//
//	vanity (32) || validators (N*20, epoch headers only) || seal (65)
package parlia

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/bscrelay/bscrelay/crypto"
)

const (
	// EpochLength is the number of blocks sharing one validator set.
	EpochLength = 200

	// ExtraVanity is the fixed number of vanity bytes at the start of extra-data.
	ExtraVanity = 32

	// ExtraSeal is the fixed number of seal bytes at the end of extra-data.
	ExtraSeal = crypto.SignatureLength

	// MinExtraLength is the shortest well-formed extra-data.
	MinExtraLength = ExtraVanity + ExtraSeal
)

// Well known chain ids.
const (
	MainnetChainID = 56
	ChapelChainID  = 97
)

var (
	// ErrMalformedExtraData is returned when extra-data is too short to hold
	// the vanity and seal, or when the validator section is not a whole
	// number of addresses.
	ErrMalformedExtraData = errors.New("parlia: malformed extra-data")

	// ErrMalformedHeader is returned when header bytes are not a valid RLP
	// header.
	ErrMalformedHeader = errors.New("parlia: malformed header")
)

// IsEpoch reports whether number is an epoch boundary.
func IsEpoch(number uint64) bool {
	return number%EpochLength == 0
}

// EpochStart returns the first block of the epoch containing number.
func EpochStart(number uint64) uint64 {
	return number - number%EpochLength
}

// ExtractValidatorSet returns the validator addresses embedded in extra, in
// the order they appear.
func ExtractValidatorSet(extra []byte) ([]common.Address, error) {
	if len(extra) < MinExtraLength {
		return nil, fmt.Errorf("%w: length %d below %d", ErrMalformedExtraData, len(extra), MinExtraLength)
	}
	body := extra[ExtraVanity : len(extra)-ExtraSeal]
	if len(body)%common.AddressLength != 0 {
		return nil, fmt.Errorf("%w: validator section of %d bytes", ErrMalformedExtraData, len(body))
	}
	validators := make([]common.Address, len(body)/common.AddressLength)
	for i := range validators {
		copy(validators[i][:], body[i*common.AddressLength:])
	}
	return validators, nil
}

// BuildExtra assembles extra-data from a vanity, an optional validator list
// and a seal. A nil seal leaves the seal bytes zeroed.
func BuildExtra(vanity []byte, validators []common.Address, seal []byte) []byte {
	extra := make([]byte, ExtraVanity, MinExtraLength+len(validators)*common.AddressLength)
	copy(extra, vanity)
	for _, v := range validators {
		extra = append(extra, v[:]...)
	}
	sealBytes := make([]byte, ExtraSeal)
	copy(sealBytes, seal)
	return append(extra, sealBytes...)
}

// DecodeHeader decodes an RLP header and checks that its extra-data carries
// a vanity and a seal.
func DecodeHeader(enc []byte) (*types.Header, error) {
	header := new(types.Header)
	if err := rlp.DecodeBytes(enc, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if header.Number == nil || !header.Number.IsUint64() {
		return nil, fmt.Errorf("%w: block number out of range", ErrMalformedHeader)
	}
	if header.Difficulty == nil {
		header.Difficulty = new(big.Int)
	}
	if len(header.Extra) < MinExtraLength {
		return nil, fmt.Errorf("%w: length %d below %d", ErrMalformedExtraData, len(header.Extra), MinExtraLength)
	}
	return header, nil
}

// Seal returns the signature bytes carried at the end of header's extra-data.
// The header must have passed DecodeHeader.
func Seal(header *types.Header) []byte {
	return header.Extra[len(header.Extra)-ExtraSeal:]
}

// EncodeSigHeader returns the RLP encoding that validators sign: the header
// with the chain id prepended and the seal stripped from extra-data. Headers
// from the Cancun fork onwards append their extension fields.
func EncodeSigHeader(header *types.Header, chainID *uint256.Int) ([]byte, error) {
	if len(header.Extra) < ExtraSeal {
		return nil, fmt.Errorf("%w: length %d below seal size", ErrMalformedExtraData, len(header.Extra))
	}
	fields := []interface{}{
		chainID,
		header.ParentHash,
		header.UncleHash,
		header.Coinbase,
		header.Root,
		header.TxHash,
		header.ReceiptHash,
		header.Bloom,
		header.Difficulty,
		header.Number,
		header.GasLimit,
		header.GasUsed,
		header.Time,
		header.Extra[:len(header.Extra)-ExtraSeal],
		header.MixDigest,
		header.Nonce,
	}
	if header.ParentBeaconRoot != nil && header.BaseFee != nil && header.WithdrawalsHash != nil &&
		header.BlobGasUsed != nil && header.ExcessBlobGas != nil {
		fields = append(fields,
			header.BaseFee,
			header.WithdrawalsHash,
			header.BlobGasUsed,
			header.ExcessBlobGas,
			header.ParentBeaconRoot,
		)
		if header.RequestsHash != nil {
			fields = append(fields, header.RequestsHash)
		}
	}
	return rlp.EncodeToBytes(fields)
}

// SealHash returns the hash validators sign for header.
func SealHash(header *types.Header, chainID *uint256.Int) (common.Hash, error) {
	enc, err := EncodeSigHeader(header, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// RecoverSigner returns the validator that sealed header.
func RecoverSigner(header *types.Header, chainID *uint256.Int, cache *crypto.SignerCache) (common.Address, error) {
	hash, err := SealHash(header, chainID)
	if err != nil {
		return common.Address{}, err
	}
	if cache != nil {
		return cache.Recover(hash, Seal(header))
	}
	return crypto.RecoverAddress(hash, Seal(header))
}
