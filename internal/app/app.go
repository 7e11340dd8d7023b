package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"whale-mirror/internal/alerting"
	"whale-mirror/internal/chain"
	"whale-mirror/internal/config"
	"whale-mirror/internal/detector"
	"whale-mirror/internal/executor"
	"whale-mirror/internal/fetcher"
	"whale-mirror/internal/metrics"
	"whale-mirror/internal/registry"
	"whale-mirror/internal/scheduler"
	"whale-mirror/internal/server"
	"whale-mirror/internal/service"
	"whale-mirror/internal/sizer"
	"whale-mirror/internal/state"
	"whale-mirror/internal/storage"
	"whale-mirror/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return alerting.NopNotifier{}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Logger)
	closer := func() {
		pool.Close()
	}
	return store, closer, nil
}

// dial connects to the node and confirms it serves the configured chain.
func (a *App) dial(ctx context.Context) (*ethclient.Client, *big.Int, error) {
	client, err := chain.Dial(ctx, chain.DialOptions{
		RPCURL:     a.Config.Chain.RPCURL,
		Transport:  chain.Transport(a.Config.Chain.Transport),
		MaxElapsed: a.Config.Chain.DialMaxElapsed,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}

	idCtx, cancel := context.WithTimeout(ctx, a.Config.Chain.RequestTimeout)
	defer cancel()
	chainID, err := client.ChainID(idCtx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("read chain id: %w", err)
	}
	if want := a.Config.Chain.ChainID; want != 0 && chainID.Int64() != want {
		client.Close()
		return nil, nil, fmt.Errorf("node serves chain %s, configured chain_id is %d", chainID, want)
	}
	return client, chainID, nil
}

func (a *App) newSeenSet(ctx context.Context) (state.SeenSet, func(), error) {
	switch a.Config.State.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		closer := func() {
			_ = client.Close()
		}
		return state.NewRedisSeen(client, "", a.Config.State.SeenTTL), closer, nil
	default:
		seen, err := state.NewMemorySeen(a.Config.State.SeenCapacity)
		if err != nil {
			return nil, nil, err
		}
		return seen, nil, nil
	}
}

// watchSet is the read-only half of the pipeline: node, routers and detector.
type watchSet struct {
	client   *ethclient.Client
	chainID  *big.Int
	registry *registry.Registry
	detector *detector.Detector
}

func (a *App) newWatchSet(ctx context.Context) (*watchSet, error) {
	reg, err := registry.New(a.Config.RouterAddresses())
	if err != nil {
		return nil, err
	}
	client, chainID, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	return &watchSet{
		client:   client,
		chainID:  chainID,
		registry: reg,
		detector: detector.New(a.Config.WalletAddresses(), reg, a.Logger),
	}, nil
}

func (w *watchSet) newPoller(a *App, onSkip func(uint64)) *chain.Poller {
	return chain.NewPoller(w.client, chain.PollerOptions{
		Mode:           chain.Mode(a.Config.Poller.Mode),
		MaxCatchUp:     a.Config.Poller.MaxCatchUp,
		ChainID:        w.chainID,
		RequestTimeout: a.Config.Chain.RequestTimeout,
		OnSkip:         onSkip,
	}, a.Logger)
}

// pipeline bundles the components built for one command invocation.
type pipeline struct {
	*watchSet
	poller   *chain.Poller
	state    *state.Store
	store    *storage.Store
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	service  *service.Service
	closers  []func()
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func (p *pipeline) onClose(fn func()) {
	if fn != nil {
		p.closers = append(p.closers, fn)
	}
}

// buildPipeline wires every component of the mirror bot. The caller owns the
// returned pipeline and must Close it.
func (a *App) buildPipeline(ctx context.Context) (p *pipeline, err error) {
	cfg := a.Config
	p = &pipeline{metrics: metrics.New(), notifier: a.newNotifier()}
	defer func() {
		if err != nil {
			p.Close()
			p = nil
		}
	}()

	p.watchSet, err = a.newWatchSet(ctx)
	if err != nil {
		return p, err
	}
	p.onClose(p.client.Close)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return p, err
	}
	p.onClose(closeStore)
	p.store = store

	var persister state.Persister
	if store != nil {
		applied, migrateErr := store.Migrate(ctx, cfg.Database.MigrationsPath)
		if migrateErr != nil {
			return p, migrateErr
		}
		if applied > 0 {
			a.Logger.Info().Int("applied", applied).Msg("database migrations applied")
		}
		persister = store
		a.pruneAttempts(ctx, store)
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; mirror records kept in memory only")
	}

	seen, closeSeen, err := a.newSeenSet(ctx)
	if err != nil {
		return p, err
	}
	p.onClose(closeSeen)

	p.state = state.New(seen, persister, a.Logger)
	restored, err := p.state.Load(ctx)
	if err != nil {
		return p, err
	}
	a.Logger.Info().Int("records", restored).Str("seen_backend", cfg.State.Backend).Msg("state restored")

	p.poller = p.newPoller(a, func(skipped uint64) {
		p.metrics.BlocksSkipped.Add(float64(skipped))
	})

	deps := service.Deps{
		Scheduler: scheduler.New(scheduler.Options{
			Interval:     cfg.Poller.Interval,
			StartupDelay: cfg.Poller.StartupDelay,
			OnError: func(error) {
				p.metrics.TickErrors.Inc()
			},
		}, a.Logger),
		Poller:   p.poller,
		Detector: p.detector,
		State:    p.state,
		Notifier: p.notifier,
		Metrics:  p.metrics,
	}
	if store != nil {
		deps.Attempts = store
		deps.Locker = store
	}

	if cfg.Mirror.Enabled {
		if err = a.wireMirror(p, &deps); err != nil {
			return p, err
		}
	} else {
		a.Logger.Warn().Msg("mirror.enabled=false; running watch-only")
	}

	p.service = service.New(service.Options{
		MirrorEnabled:  cfg.Mirror.Enabled,
		LockKey:        cfg.Scheduler.AdvisoryLockKey,
		ManualRouter:   p.registry.Primary(),
		RequestTimeout: cfg.Chain.RequestTimeout,
	}, deps, a.Logger)
	return p, nil
}

// pruneAttempts drops audit rows older than the configured retention.
// Failures are logged; startup continues.
func (a *App) pruneAttempts(ctx context.Context, attempts storage.AttemptStore) {
	retention := a.Config.Database.AttemptRetention
	if retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-retention)
	removed, err := attempts.DeleteAttemptsBefore(ctx, cutoff)
	if err != nil {
		a.Logger.Warn().Err(err).Time("cutoff", cutoff).Msg("prune mirror attempts failed")
		return
	}
	if removed > 0 {
		a.Logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("pruned old mirror attempts")
	}
}

func (a *App) newContracts(ws *watchSet) *fetcher.Contracts {
	return fetcher.NewContracts(ws.client, a.Config.Chain.RequestTimeout, a.Logger)
}

func (a *App) newSizer(contracts *fetcher.Contracts) *sizer.Sizer {
	cfg := a.Config
	userAgent := cfg.Price.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	oracle := fetcher.NewPriceOracle(fetcher.PriceOptions{
		BaseURL:   cfg.Price.BaseURL,
		AssetID:   cfg.Price.AssetID,
		Currency:  cfg.Price.Currency,
		Fallback:  cfg.Price.Fallback,
		Timeout:   cfg.Price.Timeout,
		UserAgent: userAgent,
	}, a.Logger)

	return sizer.New(sizer.Options{
		BudgetFiat:  cfg.Mirror.BudgetFiat,
		SlippageBps: cfg.Mirror.SlippageBps,
		WETH:        common.HexToAddress(cfg.Tokens.WETH),
		Operator:    common.HexToAddress(cfg.Operator.Address),
	}, oracle, contracts, contracts, a.Logger)
}

func (a *App) wireMirror(p *pipeline, deps *service.Deps) error {
	cfg := a.Config
	key, err := cfg.OperatorKey()
	if err != nil {
		return err
	}

	contracts := a.newContracts(p.watchSet)
	submitter, err := executor.New(p.client, contracts, executor.Options{
		ChainID:         p.chainID,
		PrivateKey:      key,
		GasMultiplier:   cfg.Mirror.GasMultiplier,
		DeadlineWindow:  cfg.Mirror.DeadlineWindow,
		GasLimitBuy:     cfg.Mirror.GasLimitBuy,
		GasLimitSell:    cfg.Mirror.GasLimitSell,
		GasLimitApprove: cfg.Mirror.GasLimitApprove,
		ReceiptTimeout:  cfg.Mirror.ReceiptTimeout,
		RequestTimeout:  cfg.Chain.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return err
	}

	deps.Sizer = a.newSizer(contracts)
	deps.Submitter = submitter
	deps.Gas = p.client
	return nil
}

// Run executes the long-running mirror service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if a.Config.Server.Enabled {
		srv := server.New(server.Options{
			Addr:        a.Config.Server.Addr,
			ManualToken: a.Config.Server.ManualToken,
			ManualRate:  a.Config.Server.ManualRate,
			ManualBurst: a.Config.Server.ManualBurst,
		}, p.service, p.metrics, a.Logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server stopped")
				cancel()
			}
		}()
		defer srv.Wait()
	}

	a.Logger.Info().
		Int("wallets", len(a.Config.Watch.Wallets)).
		Int("routers", len(p.registry.Routers())).
		Str("chain_id", p.chainID.String()).
		Bool("mirror", a.Config.Mirror.Enabled).
		Str("version", version.Version).
		Msg("starting mirror service")

	err = p.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("mirror service stopped")
	return nil
}

// ExportOptions hold parameters for exporting mirror attempts.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReplayOptions configure a detection replay over historical blocks.
type ReplayOptions struct {
	From   uint64
	To     uint64
	Notify bool
}
