package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// Mode selects how the poller advances through heights.
type Mode string

const (
	// ModeLatest inspects only the newest block on every tick. Heights mined
	// between two ticks are not visited.
	ModeLatest Mode = "latest"
	// ModeCursor walks every height from the last delivered block to the head.
	ModeCursor Mode = "cursor"
)

// BlockSource fetches blocks with full transaction bodies.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// PollerOptions tune block retrieval.
type PollerOptions struct {
	Mode           Mode
	MaxCatchUp     uint64
	ChainID        *big.Int
	RequestTimeout time.Duration
	// OnSkip receives the number of heights never delivered in latest mode.
	OnSkip func(skipped uint64)
}

// Poller returns blocks not yet delivered. It is not safe for concurrent use;
// the service loop owns it.
type Poller struct {
	src     BlockSource
	signer  types.Signer
	opts    PollerOptions
	logger  zerolog.Logger
	last    uint64
	started bool
}

// NewPoller constructs a Poller.
func NewPoller(src BlockSource, opts PollerOptions, logger zerolog.Logger) *Poller {
	if opts.Mode == "" {
		opts.Mode = ModeLatest
	}
	if opts.MaxCatchUp == 0 {
		opts.MaxCatchUp = 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Poller{
		src:    src,
		signer: types.LatestSignerForChainID(opts.ChainID),
		opts:   opts,
		logger: logger.With().Str("component", "poller").Str("mode", string(opts.Mode)).Logger(),
	}
}

// Poll fetches the next blocks. An error leaves the cursor at the last block
// successfully returned, so the next tick resumes from there.
func (p *Poller) Poll(ctx context.Context) ([]Block, error) {
	if p.opts.Mode == ModeCursor {
		return p.pollCursor(ctx)
	}
	return p.pollLatest(ctx)
}

// Last reports the most recently delivered height.
func (p *Poller) Last() (uint64, bool) {
	return p.last, p.started
}

func (p *Poller) pollLatest(ctx context.Context) ([]Block, error) {
	block, err := p.fetch(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch latest block: %w", err)
	}
	number := block.NumberU64()
	if p.started && number <= p.last {
		p.logger.Debug().Uint64("block", number).Msg("no new block")
		return nil, nil
	}
	if p.started && number > p.last+1 {
		skipped := number - p.last - 1
		p.logger.Debug().Uint64("block", number).Uint64("skipped", skipped).Msg("heights skipped between polls")
		if p.opts.OnSkip != nil {
			p.opts.OnSkip(skipped)
		}
	}
	p.mark(number)
	return []Block{FromTypesBlock(block, p.signer)}, nil
}

func (p *Poller) pollCursor(ctx context.Context) ([]Block, error) {
	head, err := p.headNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch head number: %w", err)
	}

	from := head
	if p.started {
		if head <= p.last {
			return nil, nil
		}
		from = p.last + 1
	}
	to := head
	if to-from+1 > p.opts.MaxCatchUp {
		to = from + p.opts.MaxCatchUp - 1
		p.logger.Warn().Uint64("from", from).Uint64("head", head).Msg("cursor lagging behind head")
	}

	blocks := make([]Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		block, err := p.fetch(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return blocks, fmt.Errorf("fetch block %d: %w", n, err)
		}
		blocks = append(blocks, FromTypesBlock(block, p.signer))
		p.mark(n)
	}
	return blocks, nil
}

// FetchRange returns blocks [from, to] without moving the cursor.
func (p *Poller) FetchRange(ctx context.Context, from, to uint64) ([]Block, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range %d..%d", from, to)
	}
	blocks := make([]Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		block, err := p.fetch(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return blocks, fmt.Errorf("fetch block %d: %w", n, err)
		}
		blocks = append(blocks, FromTypesBlock(block, p.signer))
	}
	return blocks, nil
}

func (p *Poller) fetch(ctx context.Context, number *big.Int) (*types.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()
	return p.src.BlockByNumber(ctx, number)
}

func (p *Poller) headNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()
	return p.src.BlockNumber(ctx)
}

func (p *Poller) mark(number uint64) {
	p.last = number
	p.started = true
}
