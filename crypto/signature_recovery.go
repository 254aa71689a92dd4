// ECDSA signer recovery for detached header seals.
//
// A seal is a 65-byte compact signature R (32) || S (32) || V (1) over a
// 32-byte seal hash. V is accepted either as a raw recovery id (0 or 1) or in
// the legacy Ethereum encoding (27 or 28).
package crypto

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a compact secp256k1 signature.
const SignatureLength = 65

// Errors for signature recovery operations.
var (
	ErrSigRecoverInvalidLength = errors.New("sig_recover: signature must be 65 bytes")
	ErrSigRecoverInvalidV      = errors.New("sig_recover: invalid V value")
	ErrSigRecoverInvalidRS     = errors.New("sig_recover: R and S must be in [1, n-1]")
	ErrSigRecoverFailed        = errors.New("sig_recover: public key recovery failed")
)

// CompactSignature is a 65-byte ECDSA signature: R (32) || S (32) || V (1).
type CompactSignature struct {
	R [32]byte
	S [32]byte
	V byte
}

// ParseCompactSignature parses a 65-byte signature into a CompactSignature
// and normalizes V to a raw recovery id. It does not validate R and S; use
// Validate for that.
func ParseCompactSignature(sig []byte) (*CompactSignature, error) {
	if len(sig) != SignatureLength {
		return nil, ErrSigRecoverInvalidLength
	}
	cs := &CompactSignature{V: sig[64]}
	copy(cs.R[:], sig[:32])
	copy(cs.S[:], sig[32:64])
	switch cs.V {
	case 0, 1:
	case 27, 28:
		cs.V -= 27
	default:
		return nil, ErrSigRecoverInvalidV
	}
	return cs, nil
}

// Bytes encodes the compact signature as 65 bytes: R || S || V, with V as a
// raw recovery id.
func (cs *CompactSignature) Bytes() []byte {
	buf := make([]byte, SignatureLength)
	copy(buf[:32], cs.R[:])
	copy(buf[32:64], cs.S[:])
	buf[64] = cs.V
	return buf
}

// Validate checks that R and S lie in [1, n-1]. The upper-half S check of
// EIP-2 is not applied: seals are checked the way the ecrecover precompile
// checks them.
func (cs *CompactSignature) Validate() error {
	r := new(big.Int).SetBytes(cs.R[:])
	s := new(big.Int).SetBytes(cs.S[:])
	if !gethcrypto.ValidateSignatureValues(cs.V, r, s, false) {
		return ErrSigRecoverInvalidRS
	}
	return nil
}

// RecoverAddress recovers the address that produced sig over hash.
func RecoverAddress(hash common.Hash, sig []byte) (common.Address, error) {
	cs, err := ParseCompactSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	if err := cs.Validate(); err != nil {
		return common.Address{}, err
	}
	pub, err := gethcrypto.SigToPub(hash[:], cs.Bytes())
	if err != nil {
		return common.Address{}, ErrSigRecoverFailed
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}
