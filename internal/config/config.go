package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"whale-mirror/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Operator  OperatorConfig  `mapstructure:"operator"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Routers   []string        `mapstructure:"routers"`
	Tokens    TokensConfig    `mapstructure:"tokens"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Price     PriceConfig     `mapstructure:"price"`
	Poller    PollerConfig    `mapstructure:"poller"`
	State     StateConfig     `mapstructure:"state"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ChainConfig covers node connectivity.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Transport      string        `mapstructure:"transport"`
	ChainID        int64         `mapstructure:"chain_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DialMaxElapsed time.Duration `mapstructure:"dial_max_elapsed"`
}

// OperatorConfig identifies the account that signs mirror trades.
type OperatorConfig struct {
	Address    string `mapstructure:"address"`
	PrivateKey string `mapstructure:"private_key"`
}

// WatchConfig lists the wallets to follow.
type WatchConfig struct {
	Wallets []string `mapstructure:"wallets"`
}

// TokensConfig names well-known token addresses.
type TokensConfig struct {
	WETH string `mapstructure:"weth"`
}

// MirrorConfig sizes and prices mirror trades.
type MirrorConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	BudgetFiat      decimal.Decimal `mapstructure:"budget_fiat"`
	SlippageBps     uint32          `mapstructure:"slippage_bps"`
	GasMultiplier   decimal.Decimal `mapstructure:"gas_multiplier"`
	DeadlineWindow  time.Duration   `mapstructure:"deadline_window"`
	GasLimitBuy     uint64          `mapstructure:"gas_limit_buy"`
	GasLimitSell    uint64          `mapstructure:"gas_limit_sell"`
	GasLimitApprove uint64          `mapstructure:"gas_limit_approve"`
	ReceiptTimeout  time.Duration   `mapstructure:"receipt_timeout"`
}

// PriceConfig configures the native/fiat price oracle.
type PriceConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	AssetID   string          `mapstructure:"asset_id"`
	Currency  string          `mapstructure:"currency"`
	Fallback  decimal.Decimal `mapstructure:"fallback"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	UserAgent string          `mapstructure:"user_agent"`
}

// PollerConfig governs block polling cadence.
type PollerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Mode         string        `mapstructure:"mode"`
	MaxCatchUp   uint64        `mapstructure:"max_catch_up"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// StateConfig selects the seen-set backend.
type StateConfig struct {
	Backend      string        `mapstructure:"backend"`
	SeenCapacity int           `mapstructure:"seen_capacity"`
	SeenTTL      time.Duration `mapstructure:"seen_ttl"`
}

// RedisConfig locates the shared seen-set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables
// persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`

	// AttemptRetention prunes older audit rows at startup; zero keeps all.
	AttemptRetention time.Duration `mapstructure:"attempt_retention"`
}

// SchedulerConfig holds cross-process coordination settings.
type SchedulerConfig struct {
	AdvisoryLockKey int64 `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Addr        string  `mapstructure:"addr"`
	ManualToken string  `mapstructure:"manual_token"`
	ManualRate  float64 `mapstructure:"manual_rate"`
	ManualBurst int     `mapstructure:"manual_burst"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("MIRRORBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv exports variables from file without overriding the real
// environment. A missing file is not an error.
func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mirrorbot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.transport", "http")
	v.SetDefault("chain.chain_id", 0)
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.dial_max_elapsed", "2m")

	v.SetDefault("operator.address", "")
	v.SetDefault("operator.private_key", "")
	v.SetDefault("watch.wallets", []string{})
	v.SetDefault("routers", []string{"0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"})
	v.SetDefault("tokens.weth", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	v.SetDefault("mirror.enabled", true)
	v.SetDefault("mirror.budget_fiat", "0")
	v.SetDefault("mirror.slippage_bps", 100)
	v.SetDefault("mirror.gas_multiplier", "1.0")
	v.SetDefault("mirror.deadline_window", "30s")
	v.SetDefault("mirror.gas_limit_buy", 300000)
	v.SetDefault("mirror.gas_limit_sell", 300000)
	v.SetDefault("mirror.gas_limit_approve", 100000)
	v.SetDefault("mirror.receipt_timeout", "2m")

	v.SetDefault("price.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price.asset_id", "ethereum")
	v.SetDefault("price.currency", "usd")
	v.SetDefault("price.fallback", "0")
	v.SetDefault("price.timeout", "5s")
	v.SetDefault("price.user_agent", "")

	v.SetDefault("poller.interval", "1s")
	v.SetDefault("poller.mode", "latest")
	v.SetDefault("poller.max_catch_up", 20)
	v.SetDefault("poller.startup_delay", "0s")

	v.SetDefault("state.backend", "memory")
	v.SetDefault("state.seen_capacity", 100000)
	v.SetDefault("state.seen_ttl", "24h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d697272))

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "5s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.manual_token", "")
	v.SetDefault("server.manual_rate", 0.2)
	v.SetDefault("server.manual_burst", 1)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.attempt_retention", "0s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			decimalHook(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// Validate performs sanity checks on the configuration values. Any failure is
// fatal at startup.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url must be configured")
	}
	switch strings.ToLower(c.Chain.Transport) {
	case "http", "ws", "ipc":
	default:
		return fmt.Errorf("chain.transport must be one of http, ws, ipc")
	}
	if len(c.Watch.Wallets) == 0 {
		return fmt.Errorf("watch.wallets must list at least one address")
	}
	if err := checkAddresses("watch.wallets", c.Watch.Wallets); err != nil {
		return err
	}
	if len(c.Routers) == 0 {
		return fmt.Errorf("routers must list at least one address")
	}
	if c.Database.AttemptRetention < 0 {
		return fmt.Errorf("database.attempt_retention must not be negative")
	}
	if err := checkAddresses("routers", c.Routers); err != nil {
		return err
	}
	if err := checkAddresses("tokens.weth", []string{c.Tokens.WETH}); err != nil {
		return err
	}
	if c.Mirror.Enabled {
		if err := c.validateOperator(); err != nil {
			return err
		}
		if !c.Mirror.BudgetFiat.IsPositive() {
			return fmt.Errorf("mirror.budget_fiat must be greater than zero")
		}
	}
	if c.Mirror.SlippageBps > 10000 {
		return fmt.Errorf("mirror.slippage_bps must be between 0 and 10000")
	}
	if !c.Mirror.GasMultiplier.IsPositive() {
		return fmt.Errorf("mirror.gas_multiplier must be greater than zero")
	}
	if c.Price.Fallback.IsNegative() {
		return fmt.Errorf("price.fallback cannot be negative")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than zero")
	}
	switch c.Poller.Mode {
	case "latest", "cursor":
	default:
		return fmt.Errorf("poller.mode must be latest or cursor")
	}
	switch c.State.Backend {
	case "memory":
		if c.State.SeenCapacity <= 0 {
			return fmt.Errorf("state.seen_capacity must be greater than zero")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be configured for the redis state backend")
		}
	default:
		return fmt.Errorf("state.backend must be memory or redis")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be configured when the server is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

func (c *Config) validateOperator() error {
	if err := checkAddresses("operator.address", []string{c.Operator.Address}); err != nil {
		return err
	}
	key, err := c.OperatorKey()
	if err != nil {
		return err
	}
	if crypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(c.Operator.Address) {
		return fmt.Errorf("operator.private_key does not match operator.address")
	}
	return nil
}

func checkAddresses(key string, values []string) error {
	for _, raw := range values {
		addr := strings.TrimSpace(raw)
		if !common.IsHexAddress(addr) || common.HexToAddress(addr) == (common.Address{}) {
			return fmt.Errorf("%s: invalid address %q", key, raw)
		}
	}
	return nil
}

// OperatorKey parses the operator's signing key.
func (c *Config) OperatorKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(c.Operator.PrivateKey), "0x")
	if raw == "" {
		return nil, fmt.Errorf("operator.private_key must be configured")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("operator.private_key is invalid: %w", err)
	}
	return key, nil
}

// WalletAddresses returns the watched wallets.
func (c *Config) WalletAddresses() []common.Address {
	return toAddresses(c.Watch.Wallets)
}

// RouterAddresses returns the configured routers in order.
func (c *Config) RouterAddresses() []common.Address {
	return toAddresses(c.Routers)
}

func toAddresses(values []string) []common.Address {
	out := make([]common.Address, 0, len(values))
	for _, raw := range values {
		out = append(out, common.HexToAddress(strings.TrimSpace(raw)))
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
