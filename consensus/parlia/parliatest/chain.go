// Package parliatest builds signed Parlia header chains for tests.
package parliatest

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/bscrelay/bscrelay/consensus/parlia"
)

// DefaultGenesisHash and DefaultGenesisNumber identify the BSC block used as
// relay genesis in the reference deployment.
var (
	DefaultGenesisHash   = common.HexToHash("0x33630b0b4652353bb0bd4c5bf0863addff2937c47e9142f3929aac0adf35a13e")
	DefaultGenesisNumber = uint64(12928775)
)

// Validator is a test validator with its signing key.
type Validator struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// NewValidators generates n validators sorted by address, the order Parlia
// lists them in extra-data.
func NewValidators(n int) []Validator {
	vals := make([]Validator, n)
	for i := range vals {
		key, err := gethcrypto.GenerateKey()
		if err != nil {
			panic(fmt.Sprintf("parliatest: generate key: %v", err))
		}
		vals[i] = Validator{Key: key, Address: gethcrypto.PubkeyToAddress(key.PublicKey)}
	}
	sort.Slice(vals, func(i, j int) bool {
		return bytes.Compare(vals[i].Address[:], vals[j].Address[:]) < 0
	})
	return vals
}

// Addresses returns the addresses of vals in order.
func Addresses(vals []Validator) []common.Address {
	addrs := make([]common.Address, len(vals))
	for i, v := range vals {
		addrs[i] = v.Address
	}
	return addrs
}

// Block is one generated header with both submission encodings.
type Block struct {
	Header   *types.Header
	Unsigned []byte
	Signed   []byte
	Signer   common.Address
}

// Hash returns the block hash.
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// Chain generates a linear chain of sealed headers on top of a genesis
// reference. At every epoch boundary the header embeds Next (or the current
// set when Next is nil), and that set signs from the following block on.
type Chain struct {
	ChainID       *uint256.Int
	GenesisHash   common.Hash
	GenesisNumber uint64
	Validators    []Validator
	Next          []Validator
	Blocks        []*Block

	parentHash common.Hash
	number     uint64
	time       uint64
}

// NewChain starts a chain after the given genesis reference.
func NewChain(chainID uint64, genesisHash common.Hash, genesisNumber uint64, vals []Validator) *Chain {
	return &Chain{
		ChainID:       uint256.NewInt(chainID),
		GenesisHash:   genesisHash,
		GenesisNumber: genesisNumber,
		Validators:    vals,
		parentHash:    genesisHash,
		number:        genesisNumber,
		time:          1_620_000_000,
	}
}

// NewDefaultChain starts a BSC mainnet chain at the default genesis.
func NewDefaultChain(vals []Validator) *Chain {
	return NewChain(parlia.MainnetChainID, DefaultGenesisHash, DefaultGenesisNumber, vals)
}

// Extend appends n blocks sealed by the in-turn validator.
func (c *Chain) Extend(n int) []*Block {
	out := make([]*Block, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, c.AddBlock(nil))
	}
	return out
}

// AddBlock appends one block. mod, when non-nil, may alter the header
// before it is sealed.
func (c *Chain) AddBlock(mod func(h *types.Header)) *Block {
	number := c.number + 1
	signer := c.Validators[number%uint64(len(c.Validators))]

	var embedded []common.Address
	if parlia.IsEpoch(number) {
		next := c.Next
		if next == nil {
			next = c.Validators
		}
		embedded = Addresses(next)
	}
	c.time += 3
	header := &types.Header{
		ParentHash:  c.parentHash,
		UncleHash:   types.EmptyUncleHash,
		Coinbase:    signer.Address,
		Root:        common.BigToHash(new(big.Int).SetUint64(number)),
		TxHash:      types.EmptyTxsHash,
		ReceiptHash: types.EmptyReceiptsHash,
		Difficulty:  big.NewInt(2),
		Number:      new(big.Int).SetUint64(number),
		GasLimit:    30_000_000,
		Time:        c.time,
		Extra:       parlia.BuildExtra([]byte("bscrelay-test"), embedded, nil),
	}
	if mod != nil {
		mod(header)
	}
	block := c.Seal(header, signer)

	c.Blocks = append(c.Blocks, block)
	c.parentHash = block.Hash()
	c.number = number
	if parlia.IsEpoch(number) && c.Next != nil {
		c.Validators, c.Next = c.Next, nil
	}
	return block
}

// Seal signs header with v and returns both submission encodings. The
// header's extra-data must already reserve the seal bytes.
func (c *Chain) Seal(header *types.Header, v Validator) *Block {
	unsigned, err := parlia.EncodeSigHeader(header, c.ChainID)
	if err != nil {
		panic(fmt.Sprintf("parliatest: encode sig header: %v", err))
	}
	sig, err := gethcrypto.Sign(gethcrypto.Keccak256(unsigned), v.Key)
	if err != nil {
		panic(fmt.Sprintf("parliatest: sign: %v", err))
	}
	copy(header.Extra[len(header.Extra)-parlia.ExtraSeal:], sig)

	signed, err := rlp.EncodeToBytes(header)
	if err != nil {
		panic(fmt.Sprintf("parliatest: encode header: %v", err))
	}
	return &Block{Header: header, Unsigned: unsigned, Signed: signed, Signer: v.Address}
}

// Encodings splits blocks into the unsigned and signed lists a batch
// submission takes.
func Encodings(blocks []*Block) (unsigned, signed [][]byte) {
	for _, b := range blocks {
		unsigned = append(unsigned, b.Unsigned)
		signed = append(signed, b.Signed)
	}
	return unsigned, signed
}
