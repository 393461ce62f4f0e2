package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
chain_id: 137
rpc_endpoint: https://polygon-rpc.example
tokens:
  USDC:
    address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
    decimals: 6
  WETH:
    address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"
    decimals: 18
routes:
  file: routes.yaml
  sizes: ["100", "250"]
quote:
  strategy: parallel
  min_output_ratio: "0.01"
  min_fill_bps: 1500
evaluator:
  min_profit_usd: 0.25
  max_slippage_bps: 50
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPCEndpoint = "http://localhost:8545"
	cfg.Tokens["USDC"] = TokenConfig{Address: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Decimals: 6}
	assert.NoError(t, cfg.ValidateConfig())
	assert.Equal(t, StrategyFallback, cfg.Quote.Strategy)
	assert.Equal(t, uint32(9), cfg.Evaluator.FlashloanPremiumBps)
}

func TestLoadConfigYAML(t *testing.T) {
	t.Setenv(EnvRPC, "")
	t.Setenv(EnvDryRun, "true")
	t.Setenv("USDC_POLYGON", "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	t.Setenv("DAI_POLYGON", "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063")

	cfg, err := LoadConfig(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://polygon-rpc.example", cfg.RPCEndpoint)
	assert.Equal(t, StrategyParallel, cfg.Quote.Strategy)
	assert.Equal(t, 1500, cfg.Quote.MinFillBps)
	assert.Equal(t, uint32(50), cfg.Evaluator.MaxSlippageBps)
	// untouched defaults survive
	assert.Equal(t, uint64(500000), cfg.Gas.GasUnits)
	assert.True(t, cfg.DryRun)

	assert.Equal(t, "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", cfg.Tokens["USDC"].Address)
	_, ok := cfg.Tokens["DAI"]
	assert.False(t, ok, "env overrides must not add tokens")
}

func TestLoadConfigJSON(t *testing.T) {
	body := `{
		"chain_id": 137,
		"rpc_endpoint": "http://localhost:8545",
		"tokens": {"WMATIC": {"address": "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", "decimals": 18}},
		"routes": {"file": "routes.json", "sizes": ["10"]}
	}`
	cfg, err := LoadConfig(writeFile(t, "config.json", body))
	require.NoError(t, err)
	assert.Equal(t, uint8(18), cfg.Tokens["WMATIC"].Decimals)
	assert.Equal(t, []string{"10"}, cfg.Routes.Sizes)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChainID = 0
	cfg.Quote.Strategy = "random"
	cfg.Evaluator.MaxSlippageBps = 10000
	cfg.ProfitBotAddress = "not-an-address"

	err := cfg.ValidateConfig()
	require.Error(t, err)
	for _, want := range []string{"chain_id", "rpc_endpoint", "unknown strategy", "max slippage", "profitbot_address"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateDecimalThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPCEndpoint = "https://polygon-rpc.example"
	cfg.Quote.MinOutputRatio = "0.0.1"
	cfg.Evaluator.MinIntermediateOutput = "-0.5"

	err := cfg.ValidateConfig()
	require.Error(t, err)
	for _, want := range []string{"invalid min_output_ratio", "min_intermediate_output must not be negative"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
