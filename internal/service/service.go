package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"whale-mirror/internal/alerting"
	"whale-mirror/internal/chain"
	"whale-mirror/internal/detector"
	"whale-mirror/internal/executor"
	"whale-mirror/internal/metrics"
	"whale-mirror/internal/registry"
	"whale-mirror/internal/scheduler"
	"whale-mirror/internal/sizer"
	"whale-mirror/internal/state"
	"whale-mirror/internal/storage"
)

var (
	// ErrSuppressed means the pair was already mirrored in this direction.
	ErrSuppressed = errors.New("direction already mirrored")
	// ErrMirrorDisabled is returned by manual triggers in watch-only mode.
	ErrMirrorDisabled = errors.New("mirroring is disabled")
)

// ManualSource marks attempts started from the manual trigger.
const ManualSource = "manual"

// BlockPoller yields blocks not yet processed.
type BlockPoller interface {
	Poll(ctx context.Context) ([]chain.Block, error)
}

// SwapScanner extracts watched swaps from a block.
type SwapScanner interface {
	Scan(block chain.Block) ([]detector.SwapEvent, int)
}

// OrderSizer prices a mirror trade.
type OrderSizer interface {
	Size(ctx context.Context, action registry.Action, token, router common.Address) (sizer.TradeOrder, error)
}

// OrderSubmitter signs and broadcasts a sized order.
type OrderSubmitter interface {
	Submit(ctx context.Context, order sizer.TradeOrder, whaleGasWei *big.Int) (executor.Result, error)
	Operator() common.Address
}

// GasOracle reports the current network gas price.
type GasOracle interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Options tune the pipeline.
type Options struct {
	MirrorEnabled  bool
	LockKey        int64
	ManualRouter   common.Address
	RequestTimeout time.Duration
}

// Deps are the pipeline's collaborators. Attempts, Locker and Scheduler may be
// nil; Submitter, Sizer and Gas may be nil when mirroring is disabled.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Poller    BlockPoller
	Detector  SwapScanner
	State     *state.Store
	Sizer     OrderSizer
	Submitter OrderSubmitter
	Gas       GasOracle
	Notifier  alerting.Notifier
	Attempts  storage.AttemptStore
	Locker    storage.AdvisoryLocker
	Metrics   *metrics.Metrics
}

// Service runs the watch, detect and mirror pipeline.
type Service struct {
	opts Options
	deps Deps

	// mirrorMu serialises record check, sizing, nonce, signing, broadcast
	// and record update between the poll loop and the manual trigger.
	mirrorMu sync.Mutex

	logger zerolog.Logger
}

// New constructs the pipeline service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if deps.Notifier == nil {
		deps.Notifier = alerting.NopNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Service{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the poll loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick polls for new blocks and handles every watched swap in them.
// Transport errors are returned for the scheduler to log; the next tick retries.
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	started := time.Now()
	defer func() { s.deps.Metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	// Blocks delivered before a failed fetch are already behind the cursor.
	blocks, err := s.deps.Poller.Poll(ctx)
	for _, block := range blocks {
		s.ProcessBlock(ctx, block)
	}
	if err != nil {
		return fmt.Errorf("poll blocks: %w", err)
	}
	return nil
}

// ProcessBlock scans one block and handles each detected swap in order.
func (s *Service) ProcessBlock(ctx context.Context, block chain.Block) {
	events, failures := s.deps.Detector.Scan(block)
	s.deps.Metrics.BlocksProcessed.Inc()
	s.deps.Metrics.LastBlock.Set(float64(block.Number))
	if failures > 0 {
		s.deps.Metrics.DecodeFailures.Add(float64(failures))
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		s.HandleEvent(ctx, ev)
	}
}

// HandleEvent processes a detected swap at most once per key.
func (s *Service) HandleEvent(ctx context.Context, ev detector.SwapEvent) {
	logger := s.logger.With().
		Str("wallet", ev.Wallet.Hex()).
		Str("action", string(ev.Action)).
		Str("token", ev.Token.Hex()).
		Str("tx", ev.TxHash.Hex()).
		Logger()

	first, err := s.deps.State.MarkSeen(ctx, ev.Key())
	if err != nil {
		logger.Error().Err(err).Msg("seen-set unavailable, event skipped")
		return
	}
	if !first {
		logger.Debug().Msg("event already processed")
		return
	}

	s.deps.Metrics.Detections.WithLabelValues(string(ev.Action)).Inc()
	logger.Info().Uint64("block", ev.BlockNumber).Str("method", ev.Method).Msg("watched wallet swap detected")
	s.notify(ctx, alerting.DetectionMessage(ev.Wallet.Hex(), string(ev.Action), ev.Router.Hex(), ev.TxHash.Hex()))

	if !s.opts.MirrorEnabled {
		return
	}

	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	_, err = s.mirror(ctx, mirrorRequest{
		wallet:   ev.Wallet,
		token:    ev.Token,
		action:   ev.Action,
		router:   ev.Router,
		gasPrice: ev.GasPriceWei,
		source:   ev.TxHash.Hex(),
		block:    ev.BlockNumber,
	})
	if err != nil && !errors.Is(err, ErrSuppressed) && !errors.Is(err, sizer.ErrNothingToSell) {
		logger.Warn().Err(err).Msg("mirror attempt failed")
	}
}

// MirrorSell sells the operator's full balance of token at the current network
// gas price. It shares the poll loop's lock and skips direction suppression.
func (s *Service) MirrorSell(ctx context.Context, token common.Address) (executor.Result, error) {
	if !s.opts.MirrorEnabled || s.deps.Submitter == nil {
		return executor.Result{}, ErrMirrorDisabled
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	gasPrice, err := s.deps.Gas.SuggestGasPrice(reqCtx)
	cancel()
	if err != nil {
		return executor.Result{}, fmt.Errorf("suggest gas price: %w", err)
	}

	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	return s.mirror(ctx, mirrorRequest{
		wallet:   s.deps.Submitter.Operator(),
		token:    token,
		action:   registry.ActionSell,
		router:   s.opts.ManualRouter,
		gasPrice: gasPrice,
		source:   ManualSource,
		force:    true,
	})
}

type mirrorRequest struct {
	wallet   common.Address
	token    common.Address
	action   registry.Action
	router   common.Address
	gasPrice *big.Int
	source   string
	block    uint64
	force    bool
}

// mirror must be called with mirrorMu held.
func (s *Service) mirror(ctx context.Context, req mirrorRequest) (executor.Result, error) {
	logger := s.logger.With().
		Str("wallet", req.wallet.Hex()).
		Str("action", string(req.action)).
		Str("token", req.token.Hex()).
		Str("source", req.source).
		Logger()

	if !req.force && s.deps.State.AlreadyMirrored(req.wallet, req.token, req.action) {
		logger.Info().Msg("direction already mirrored, skipping")
		s.deps.Metrics.Mirrors.WithLabelValues(string(req.action), storage.StatusSkipped).Inc()
		return executor.Result{}, ErrSuppressed
	}

	order, err := s.deps.Sizer.Size(ctx, req.action, req.token, req.router)
	if err != nil {
		if errors.Is(err, sizer.ErrNothingToSell) {
			logger.Info().Msg("no balance to sell, mirror skipped")
			s.deps.Metrics.Mirrors.WithLabelValues(string(req.action), storage.StatusSkipped).Inc()
			s.audit(ctx, req, nil, storage.StatusSkipped, err)
			return executor.Result{}, err
		}
		s.fail(ctx, req, nil, fmt.Errorf("size order: %w", err))
		return executor.Result{}, fmt.Errorf("size order: %w", err)
	}

	res, err := s.deps.Submitter.Submit(ctx, order, req.gasPrice)
	if err != nil {
		s.record(ctx, req, false)
		s.fail(ctx, req, &res, err)
		return res, fmt.Errorf("submit: %w", err)
	}

	s.record(ctx, req, true)
	s.deps.Metrics.Mirrors.WithLabelValues(string(req.action), storage.StatusSubmitted).Inc()
	s.audit(ctx, req, &res, storage.StatusSubmitted, nil)
	s.notify(ctx, alerting.MirrorMessage(string(req.action), req.token.Hex(),
		res.Order.AmountIn.String(), res.Order.MinAmountOut.String(), res.TxHash.Hex()))
	return res, nil
}

func (s *Service) fail(ctx context.Context, req mirrorRequest, res *executor.Result, err error) {
	s.deps.Metrics.Mirrors.WithLabelValues(string(req.action), storage.StatusFailed).Inc()
	s.audit(ctx, req, res, storage.StatusFailed, err)
	s.notify(ctx, alerting.FailureMessage(string(req.action), req.token.Hex(), err.Error()))
}

func (s *Service) record(ctx context.Context, req mirrorRequest, mirrored bool) {
	if err := s.deps.State.RecordMirror(ctx, req.wallet, req.token, req.action, mirrored); err != nil {
		s.logger.Error().Err(err).Str("token", req.token.Hex()).Msg("failed to persist mirror record")
	}
}

func (s *Service) audit(ctx context.Context, req mirrorRequest, res *executor.Result, status string, cause error) {
	if s.deps.Attempts == nil {
		return
	}

	attempt := storage.MirrorAttempt{
		Wallet:      req.wallet.Hex(),
		Token:       req.token.Hex(),
		Action:      string(req.action),
		SourceTx:    req.source,
		BlockNumber: req.block,
		Status:      status,
	}
	if res != nil {
		attempt.AmountIn = bigToDecimal(res.Order.AmountIn)
		attempt.MinOut = bigToDecimal(res.Order.MinAmountOut)
		attempt.GasPriceWei = bigToDecimal(res.Order.GasPriceWei)
		if res.TxHash != (common.Hash{}) {
			hash := res.TxHash.Hex()
			attempt.MirrorTx = &hash
		}
		if res.ApprovalTx != nil {
			hash := res.ApprovalTx.Hex()
			attempt.ApprovalTx = &hash
		}
	}
	if cause != nil {
		msg := cause.Error()
		attempt.Error = &msg
	}

	if _, err := s.deps.Attempts.InsertAttempt(ctx, attempt); err != nil {
		s.logger.Error().Err(err).Str("source", req.source).Msg("failed to persist mirror attempt")
	}
}

func (s *Service) notify(ctx context.Context, text string) {
	if err := s.deps.Notifier.Notify(ctx, text); err != nil {
		s.deps.Metrics.NotifyFailures.Inc()
		s.logger.Warn().Err(err).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func bigToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}
