package rpc

import (
	"errors"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/bscrelay/bscrelay/light"
)

// Relay error codes. Each maps to one light sentinel error.
const (
	ErrCodeSignatureEnvelopeMismatch = -32010
	ErrCodeDuplicateBlock            = -32011
	ErrCodeMissingParent             = -32012
	ErrCodeInvalidMixHash            = -32013
	ErrCodeInvalidDifficulty         = -32014
	ErrCodeUnauthorizedSigner        = -32015
	ErrCodeBatchLengthMismatch       = -32016
	ErrCodeMalformedExtraData        = -32017
	ErrCodeMalformedHeader           = -32018
	ErrCodeValidatorSetConflict      = -32019
	ErrCodeNotInitialized            = -32020
	ErrCodeUnknownHeader             = -32021
)

var errorCodes = []struct {
	err  error
	code int
}{
	{light.ErrSignatureEnvelopeMismatch, ErrCodeSignatureEnvelopeMismatch},
	{light.ErrDuplicateBlock, ErrCodeDuplicateBlock},
	{light.ErrMissingParent, ErrCodeMissingParent},
	{light.ErrInvalidMixHash, ErrCodeInvalidMixHash},
	{light.ErrInvalidDifficulty, ErrCodeInvalidDifficulty},
	{light.ErrUnauthorizedSigner, ErrCodeUnauthorizedSigner},
	{light.ErrBatchLengthMismatch, ErrCodeBatchLengthMismatch},
	{light.ErrMalformedExtraData, ErrCodeMalformedExtraData},
	{light.ErrMalformedHeader, ErrCodeMalformedHeader},
	{light.ErrValidatorSetConflict, ErrCodeValidatorSetConflict},
	{light.ErrNotInitialized, ErrCodeNotInitialized},
	{light.ErrUnknownHeader, ErrCodeUnknownHeader},
}

// relayError carries a relay error over JSON-RPC with a stable code.
type relayError struct {
	code int
	err  error
}

func (e *relayError) Error() string  { return e.err.Error() }
func (e *relayError) ErrorCode() int { return e.code }
func (e *relayError) Unwrap() error  { return e.err }

var _ gethrpc.Error = (*relayError)(nil)

// wrapError attaches the error code of a known relay error. Other errors are
// returned unchanged and reach callers as internal errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return &relayError{code: ec.code, err: err}
		}
	}
	return err
}

// remoteError is an error received from a relay server. It matches the
// light sentinel its code stands for under errors.Is.
type remoteError struct {
	code     int
	msg      string
	sentinel error
}

func (e *remoteError) Error() string  { return e.msg }
func (e *remoteError) ErrorCode() int { return e.code }
func (e *remoteError) Unwrap() error  { return e.sentinel }

// unwrapError maps a JSON-RPC error from the server back to its sentinel.
func unwrapError(err error) error {
	var rpcErr gethrpc.Error
	if err == nil || !errors.As(err, &rpcErr) {
		return err
	}
	for _, ec := range errorCodes {
		if ec.code == rpcErr.ErrorCode() {
			return &remoteError{code: ec.code, msg: rpcErr.Error(), sentinel: ec.err}
		}
	}
	return err
}
