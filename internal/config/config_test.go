package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func operatorYAML(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return fmt.Sprintf("operator:\n  address: %q\n  private_key: %q\n",
		crypto.PubkeyToAddress(key.PublicKey).Hex(),
		hex.EncodeToString(crypto.FromECDSA(key)))
}

const baseYAML = `
chain:
  rpc_url: "http://localhost:8545"
watch:
  wallets: ["0x1111111111111111111111111111111111111111"]
mirror:
  budget_fiat: "150.5"
`

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, baseYAML+operatorYAML(t))
	t.Setenv("MIRRORBOT_MIRROR_SLIPPAGE_BPS", "250")
	t.Setenv("MIRRORBOT_ROUTERS", "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D,0xE592427A0AEce92De3Edee1F18E0157C05861564")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Chain.Transport)
	assert.Equal(t, 10*time.Second, cfg.Chain.RequestTimeout)
	assert.True(t, cfg.Mirror.BudgetFiat.Equal(decimal.RequireFromString("150.5")))
	assert.True(t, cfg.Mirror.GasMultiplier.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, uint32(250), cfg.Mirror.SlippageBps)
	assert.Equal(t, 30*time.Second, cfg.Mirror.DeadlineWindow)
	assert.Equal(t, uint64(300000), cfg.Mirror.GasLimitBuy)
	assert.Equal(t, uint64(100000), cfg.Mirror.GasLimitApprove)
	assert.Equal(t, time.Second, cfg.Poller.Interval)
	assert.Zero(t, cfg.Database.AttemptRetention)
	assert.Equal(t, "latest", cfg.Poller.Mode)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Len(t, cfg.RouterAddresses(), 2)
	assert.Len(t, cfg.WalletAddresses(), 1)
	assert.Equal(t, 5*time.Second, cfg.Alerting.Telegram.Timeout)
}

func TestValidateRejectsMismatchedKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	body := baseYAML + fmt.Sprintf("operator:\n  address: %q\n  private_key: %q\n",
		"0x2222222222222222222222222222222222222222",
		hex.EncodeToString(crypto.FromECDSA(key)))

	_, err = Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestValidateWatchOnlySkipsOperator(t *testing.T) {
	body := strings.Replace(baseYAML, "mirror:\n", "mirror:\n  enabled: false\n", 1)
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.False(t, cfg.Mirror.Enabled)
}

func TestValidateErrors(t *testing.T) {
	op := operatorYAML(t)
	cases := map[string]string{
		"bad wallet":    strings.Replace(baseYAML, "0x1111111111111111111111111111111111111111", "0xnope", 1) + op,
		"zero budget":   strings.Replace(baseYAML, `"150.5"`, `"0"`, 1) + op,
		"bad slippage":  baseYAML + "  slippage_bps: 10001\n" + op,
		"bad transport": strings.Replace(baseYAML, "chain:\n", "chain:\n  transport: carrier-pigeon\n", 1) + op,
		"bad mode":      baseYAML + op + "poller:\n  mode: sometimes\n",
		"no rpc":        strings.Replace(baseYAML, `"http://localhost:8545"`, `""`, 1) + op,
		"telegram":      baseYAML + op + "alerting:\n  telegram:\n    enabled: true\n",
		"retention":     baseYAML + op + "database:\n  attempt_retention: -1h\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	assert.Equal(t, 10, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 3, cfg.ResolveMaxPoints(3))
}
