// Package bootstrap chooses the genesis reference and validator set a relay
// is initialised with, reading them from a live chain.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bscrelay/bscrelay/consensus/parlia"
	"github.com/bscrelay/bscrelay/light"
	"github.com/bscrelay/bscrelay/log"
)

var (
	ErrNotEnoughBlocks = errors.New("bootstrap: chain shorter than confirmation depth")
	ErrNoValidators    = errors.New("bootstrap: epoch header carries no validators")
)

// ChainSource is the slice of a chain client bootstrap needs. It is
// satisfied by *ethclient.Client.
type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Options tune the genesis choice.
type Options struct {
	// Number pins the genesis block. Zero selects the latest block minus
	// Confirmations.
	Number uint64
	// Confirmations is how far behind the chain head the genesis is taken.
	Confirmations uint64
}

// Result is the relay genesis.
type Result struct {
	Hash       common.Hash
	Number     uint64
	Validators []common.Address
}

// Genesis picks the relay genesis from src. The validator set comes from
// the epoch header at or before the genesis, or from the previous epoch
// header when the genesis is so close to the boundary that the new set has
// not taken over yet.
func Genesis(ctx context.Context, src ChainSource, opts Options) (*Result, error) {
	logger := log.Default().Module("bootstrap")

	number := opts.Number
	if number == 0 {
		latest, err := src.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: block number: %w", err)
		}
		if latest < opts.Confirmations {
			return nil, fmt.Errorf("%w: height %d, confirmations %d", ErrNotEnoughBlocks, latest, opts.Confirmations)
		}
		number = latest - opts.Confirmations
	}
	header, err := headerAt(ctx, src, number)
	if err != nil {
		return nil, err
	}

	epoch := parlia.EpochStart(number)
	current, err := validatorsAt(ctx, src, epoch)
	if err != nil {
		return nil, err
	}
	var previous []common.Address
	if epoch >= parlia.EpochLength {
		if previous, err = validatorsAt(ctx, src, epoch-parlia.EpochLength); err != nil {
			return nil, err
		}
	}
	set := []common.Address(light.ChooseBootstrapSet(number, current, previous))

	res := &Result{Hash: header.Hash(), Number: number, Validators: set}
	logger.Info("Selected relay genesis", "number", res.Number, "hash", res.Hash, "epoch", epoch, "validators", len(set))
	return res, nil
}

// Initialize picks the genesis from src and initialises relay with it.
func Initialize(ctx context.Context, src ChainSource, relay *light.Relay, opts Options) (*Result, error) {
	res, err := Genesis(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	if err := relay.Initialize(res.Validators, res.Hash, res.Number); err != nil {
		return nil, err
	}
	return res, nil
}

func headerAt(ctx context.Context, src ChainSource, number uint64) (*types.Header, error) {
	header, err := src.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: header %d: %w", number, err)
	}
	if header == nil {
		return nil, fmt.Errorf("bootstrap: header %d not found", number)
	}
	return header, nil
}

func validatorsAt(ctx context.Context, src ChainSource, epoch uint64) ([]common.Address, error) {
	header, err := headerAt(ctx, src, epoch)
	if err != nil {
		return nil, err
	}
	set, err := parlia.ExtractValidatorSet(header.Extra)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: epoch header %d: %w", epoch, err)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: block %d", ErrNoValidators, epoch)
	}
	return set, nil
}
