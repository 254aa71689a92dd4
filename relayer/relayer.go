// Package relayer follows a source chain and feeds its headers to a relay
// in batches.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/bscrelay/bscrelay/consensus/parlia"
	"github.com/bscrelay/bscrelay/light"
	"github.com/bscrelay/bscrelay/log"
)

var (
	batchesMeter      = metrics.NewRegisteredMeter("relayer/batches", nil)
	headersMeter      = metrics.NewRegisteredMeter("relayer/headers", nil)
	failedRoundsMeter = metrics.NewRegisteredMeter("relayer/failures", nil)
	lagGauge          = metrics.NewRegisteredGauge("relayer/lag", nil)
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("relayer: invalid config")

// Config configures a Relayer.
type Config struct {
	// BatchSize is the maximum number of headers submitted at once.
	BatchSize uint64 `mapstructure:"batch-size"`
	// PollInterval is the wait between rounds once the relay has caught up
	// or a round failed.
	PollInterval time.Duration `mapstructure:"poll-interval"`
	// FetchWorkers bounds concurrent header downloads within a round.
	FetchWorkers int `mapstructure:"fetch-workers"`
}

// DefaultConfig returns the default relayer configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		PollInterval: 3 * time.Second,
		FetchWorkers: 8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize == 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	if c.FetchWorkers <= 0 {
		return fmt.Errorf("%w: fetch workers must be positive", ErrInvalidConfig)
	}
	return nil
}

// Source is the chain headers are read from. *ethclient.Client implements
// it.
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Target is the relay headers are submitted to.
type Target interface {
	Head(ctx context.Context) (light.BlockRef, error)
	SubmitBlockHeaderBatch(ctx context.Context, unsigned, signed [][]byte) error
}

// LocalTarget submits to a relay in the same process.
type LocalTarget struct {
	Relay *light.Relay
}

// Head implements Target.
func (t LocalTarget) Head(context.Context) (light.BlockRef, error) {
	return t.Relay.Head()
}

// SubmitBlockHeaderBatch implements Target.
func (t LocalTarget) SubmitBlockHeaderBatch(_ context.Context, unsigned, signed [][]byte) error {
	return t.Relay.SubmitBlockHeaderBatch(unsigned, signed)
}

// Relayer copies headers from a Source to a Target.
type Relayer struct {
	config  Config
	source  Source
	target  Target
	chainID *uint256.Int
	log     *log.Logger
}

// New creates a relayer for the chain with the given id.
func New(config Config, source Source, target Target, chainID uint64, logger *log.Logger) *Relayer {
	if logger == nil {
		logger = log.Default()
	}
	return &Relayer{
		config:  config,
		source:  source,
		target:  target,
		chainID: uint256.NewInt(chainID),
		log:     logger.Module("relayer"),
	}
}

// Run relays until ctx is cancelled. Round failures are logged and retried
// after the poll interval; Run only returns once ctx is done.
func (r *Relayer) Run(ctx context.Context) error {
	r.log.Info("Starting relayer", "batchSize", r.config.BatchSize, "pollInterval", r.config.PollInterval)
	for {
		n, err := r.RelayOnce(ctx)
		if ctx.Err() != nil {
			r.log.Info("Relayer stopped")
			return nil
		}
		wait := r.config.PollInterval
		switch {
		case err != nil:
			failedRoundsMeter.Mark(1)
			r.log.Error("Relay round failed", "err", err)
		case uint64(n) == r.config.BatchSize:
			// Still behind: go again straight away.
			wait = 0
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				r.log.Info("Relayer stopped")
				return nil
			case <-timer.C:
			}
		}
	}
}

// RelayOnce submits the next batch of headers the target lacks and returns
// how many were submitted.
func (r *Relayer) RelayOnce(ctx context.Context) (int, error) {
	head, err := r.target.Head(ctx)
	if err != nil {
		return 0, fmt.Errorf("relayer: target head: %w", err)
	}
	height, err := r.source.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("relayer: source height: %w", err)
	}
	if height <= head.Number {
		lagGauge.Update(0)
		return 0, nil
	}
	lagGauge.Update(int64(height - head.Number))

	to := min(head.Number+r.config.BatchSize, height)
	unsigned, signed, err := r.fetch(ctx, head.Number+1, to)
	if err != nil {
		return 0, err
	}
	r.log.Info("Submitting headers", "from", head.Number+1, "to", to, "chainHeight", height)
	if err := r.target.SubmitBlockHeaderBatch(ctx, unsigned, signed); err != nil {
		return 0, fmt.Errorf("relayer: submit %d..%d: %w", head.Number+1, to, err)
	}
	batchesMeter.Mark(1)
	headersMeter.Mark(int64(len(signed)))
	return len(signed), nil
}

// fetch downloads headers from..to and returns both submission encodings.
func (r *Relayer) fetch(ctx context.Context, from, to uint64) (unsigned, signed [][]byte, err error) {
	count := int(to - from + 1)
	unsigned = make([][]byte, count)
	signed = make([][]byte, count)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.config.FetchWorkers)
	for i := 0; i < count; i++ {
		number := from + uint64(i)
		eg.Go(func() error {
			header, err := r.source.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
			if err != nil {
				return fmt.Errorf("relayer: header %d: %w", number, err)
			}
			if header == nil {
				return fmt.Errorf("relayer: header %d not found", number)
			}
			u, s, err := EncodeHeader(header, r.chainID)
			if err != nil {
				return fmt.Errorf("relayer: encode header %d: %w", number, err)
			}
			unsigned[i], signed[i] = u, s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return unsigned, signed, nil
}

// EncodeHeader returns the seal encoding and the full RLP encoding of
// header, the pair a relay submission takes.
func EncodeHeader(header *types.Header, chainID *uint256.Int) (unsigned, signed []byte, err error) {
	if unsigned, err = parlia.EncodeSigHeader(header, chainID); err != nil {
		return nil, nil, err
	}
	if signed, err = rlp.EncodeToBytes(header); err != nil {
		return nil, nil, err
	}
	return unsigned, signed, nil
}
