package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Quote strategies
const (
	StrategyFallback = "fallback"
	StrategyParallel = "parallel"
)

type Config struct {
	// Chain and network settings
	ChainID     uint64 `json:"chain_id" yaml:"chain_id"`
	RPCEndpoint string `json:"rpc_endpoint" yaml:"rpc_endpoint"`
	WSEndpoint  string `json:"ws_endpoint" yaml:"ws_endpoint"`

	// Execution
	ProfitBotAddress string `json:"profitbot_address" yaml:"profitbot_address"`
	DryRun           bool   `json:"dry_run" yaml:"dry_run"`

	Tokens    map[string]TokenConfig `json:"tokens" yaml:"tokens"`
	Routes    RoutesConfig           `json:"routes" yaml:"routes"`
	Venues    VenuesConfig           `json:"venues" yaml:"venues"`
	Quote     QuoteConfig            `json:"quote" yaml:"quote"`
	Evaluator EvaluatorConfig        `json:"evaluator" yaml:"evaluator"`
	Gas       GasConfig              `json:"gas" yaml:"gas"`
	Oracle    OracleConfig           `json:"oracle" yaml:"oracle"`
	Execution ExecutionConfig        `json:"execution" yaml:"execution"`
	Scanner   ScannerConfig          `json:"scanner" yaml:"scanner"`
	Mempool   MempoolConfig          `json:"mempool" yaml:"mempool"`

	APIRateLimit RateLimitConfig `json:"api_rate_limit" yaml:"api_rate_limit"`
	Retry        RetryConfig     `json:"retry" yaml:"retry"`

	// Feature flags
	PrometheusEnabled  bool   `json:"prometheus_enabled" yaml:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint" yaml:"prometheus_endpoint"`

	// Secrets, populated from the environment only
	Secrets SecureConfig `json:"-" yaml:"-"`

	// Internal components
	Logger *zap.Logger `json:"-" yaml:"-"`
}

type TokenConfig struct {
	Address  string `json:"address" yaml:"address"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

type RoutesConfig struct {
	File  string   `json:"file" yaml:"file"`
	Sizes []string `json:"sizes" yaml:"sizes"`
}

type VenuesConfig struct {
	// Order is the priority order for the fallback strategy
	Order []string `json:"order" yaml:"order"`

	QuickSwapRouter  string   `json:"quickswap_router" yaml:"quickswap_router"`
	SushiSwapRouter  string   `json:"sushiswap_router" yaml:"sushiswap_router"`
	UniswapV3Quoter  string   `json:"uniswap_v3_quoter" yaml:"uniswap_v3_quoter"`
	UniswapV3Factory string   `json:"uniswap_v3_factory" yaml:"uniswap_v3_factory"`
	FeeTiers         []uint32 `json:"fee_tiers" yaml:"fee_tiers"`

	ZeroXURL        string        `json:"zerox_url" yaml:"zerox_url"`
	ParaSwapURL     string        `json:"paraswap_url" yaml:"paraswap_url"`
	ParaSwapDexes   []string      `json:"paraswap_dexes" yaml:"paraswap_dexes"`
	OpenOceanURL    string        `json:"openocean_url" yaml:"openocean_url"`
	OpenOceanChain  string        `json:"openocean_chain" yaml:"openocean_chain"`
	RequestTimeout  time.Duration `json:"request_timeout" yaml:"request_timeout"`
	PairCacheFile   string        `json:"pair_cache_file" yaml:"pair_cache_file"`
	QuoteOnlyVenues []string      `json:"quote_only_venues" yaml:"quote_only_venues"`
}

type QuoteConfig struct {
	Strategy string `json:"strategy" yaml:"strategy"`
	// MinOutputRatio is the minimum amountOut/amountIn fraction, in raw units
	MinOutputRatio string  `json:"min_output_ratio" yaml:"min_output_ratio"`
	MinFillBps     int     `json:"min_fill_bps" yaml:"min_fill_bps"`
	MinTradeUSD    float64 `json:"min_trade_usd" yaml:"min_trade_usd"`
	// VenueDelay is inserted between sequential venue calls
	VenueDelay time.Duration `json:"venue_delay" yaml:"venue_delay"`
}

type EvaluatorConfig struct {
	MinProfitUSD          float64           `json:"min_profit_usd" yaml:"min_profit_usd"`
	MaxSlippageBps        uint32            `json:"max_slippage_bps" yaml:"max_slippage_bps"`
	SlippageOverrides     map[string]uint32 `json:"slippage_overrides" yaml:"slippage_overrides"`
	MinIntermediateOutput string            `json:"min_intermediate_output" yaml:"min_intermediate_output"`
	RequireDistinctVenues bool              `json:"require_distinct_venues" yaml:"require_distinct_venues"`
	FlashloanPremiumBps   uint32            `json:"flashloan_premium_bps" yaml:"flashloan_premium_bps"`
}

type GasConfig struct {
	GasStationURL        string        `json:"gas_station_url" yaml:"gas_station_url"`
	GasUnits             uint64        `json:"gas_units" yaml:"gas_units"`
	FallbackGasPriceGwei float64       `json:"fallback_gas_price_gwei" yaml:"fallback_gas_price_gwei"`
	FallbackNativeUSD    float64       `json:"fallback_native_usd" yaml:"fallback_native_usd"`
	NativeUSDFeed        string        `json:"native_usd_feed" yaml:"native_usd_feed"`
	MaxBaseFeeGwei       float64       `json:"max_base_fee_gwei" yaml:"max_base_fee_gwei"`
	PriorityFeeGwei      float64       `json:"priority_fee_gwei" yaml:"priority_fee_gwei"`
	UpdateInterval       time.Duration `json:"update_interval" yaml:"update_interval"`
}

type OracleConfig struct {
	AaveOracle   string        `json:"aave_oracle" yaml:"aave_oracle"`
	CoinGeckoURL string        `json:"coingecko_url" yaml:"coingecko_url"`
	CoinGeckoNet string        `json:"coingecko_network" yaml:"coingecko_network"`
	CacheSize    int           `json:"cache_size" yaml:"cache_size"`
	CacheTTL     time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

type ExecutionConfig struct {
	GasLimit uint64 `json:"gas_limit" yaml:"gas_limit"`
	// Aave V3 pool and protocol data provider used for premium and liquidity reads
	AavePool         string `json:"aave_pool" yaml:"aave_pool"`
	AaveDataProvider string `json:"aave_data_provider" yaml:"aave_data_provider"`
	// MaxLoanPct caps the loan at this share of the reserve's available liquidity
	MaxLoanPct uint8 `json:"max_loan_pct" yaml:"max_loan_pct"`
}

type ScannerConfig struct {
	Concurrency    int           `json:"concurrency" yaml:"concurrency"`
	Interval       time.Duration `json:"interval" yaml:"interval"`
	JournalPath    string        `json:"journal_path" yaml:"journal_path"`
	VerifyDecimals bool          `json:"verify_decimals" yaml:"verify_decimals"`
}

type MempoolConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	QueueSize     int  `json:"queue_size" yaml:"queue_size"`
	SeenCacheSize int  `json:"seen_cache_size" yaml:"seen_cache_size"`
	// Routers defaults to the routers of the configured venues when empty
	Routers    []string        `json:"routers" yaml:"routers"`
	LookupRate RateLimitConfig `json:"lookup_rate" yaml:"lookup_rate"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size"`
	WaitTimeout       time.Duration `json:"wait_timeout" yaml:"wait_timeout"`
}

type RetryConfig struct {
	MaxRetries  int           `json:"max_retries" yaml:"max_retries"`
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxJitter   time.Duration `json:"max_jitter" yaml:"max_jitter"`
}

type SecureConfig struct {
	PrivateKey  string
	ZeroXAPIKey string
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if len(c.Tokens) == 0 {
		errors = append(errors, "at least one token must be configured")
	}
	if c.Routes.File == "" {
		errors = append(errors, "routes.file must be specified")
	}
	if len(c.Routes.Sizes) == 0 {
		errors = append(errors, "routes.sizes must not be empty")
	}
	if c.ProfitBotAddress != "" && !common.IsHexAddress(c.ProfitBotAddress) {
		errors = append(errors, "profitbot_address is not a valid address")
	}

	if err := c.Quote.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("quote config error: %v", err))
	}
	if err := c.Evaluator.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("evaluator config error: %v", err))
	}
	if err := c.APIRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("API rate limit error: %v", err))
	}
	if err := c.Retry.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("retry config error: %v", err))
	}
	if c.Execution.MaxLoanPct > 100 {
		errors = append(errors, "execution.max_loan_pct must not exceed 100")
	}
	if c.Scanner.Concurrency <= 0 {
		errors = append(errors, "scanner.concurrency must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (q *QuoteConfig) Validate() error {
	if q.Strategy != StrategyFallback && q.Strategy != StrategyParallel {
		return fmt.Errorf("unknown strategy %q", q.Strategy)
	}
	if q.MinFillBps < 0 || q.MinFillBps > 10000 {
		return fmt.Errorf("min fill bps must be within 0..10000")
	}
	if q.MinTradeUSD < 0 {
		return fmt.Errorf("min trade USD must not be negative")
	}
	if err := nonNegativeDecimal("min_output_ratio", q.MinOutputRatio); err != nil {
		return err
	}
	return nil
}

func (e *EvaluatorConfig) Validate() error {
	if e.MaxSlippageBps >= 10000 {
		return fmt.Errorf("max slippage bps must be below 10000")
	}
	for sym, bps := range e.SlippageOverrides {
		if bps >= 10000 {
			return fmt.Errorf("slippage override for %s must be below 10000", sym)
		}
	}
	if e.FlashloanPremiumBps >= 10000 {
		return fmt.Errorf("flashloan premium bps must be below 10000")
	}
	if err := nonNegativeDecimal("min_intermediate_output", e.MinIntermediateOutput); err != nil {
		return err
	}
	return nil
}

// nonNegativeDecimal checks an optional decimal string
func nonNegativeDecimal(name, v string) error {
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("%s must not be negative", name)
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if r.BaseBackoff < 0 || r.MaxJitter < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	return nil
}

// LoadConfig reads a JSON or YAML config on top of DefaultConfig, then
// applies environment overrides and validates.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".polyarb.yaml")
	}

	raw, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(cfgFile)) {
	case ".json":
		err = json.Unmarshal(raw, config)
	default:
		err = yaml.Unmarshal(raw, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := LoadEnv(); err != nil {
		config.Logger.Debug("No .env file loaded", zap.Error(err))
	}
	ApplyEnv(config)

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(cfgFile)) == ".json" {
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "    ")
		return encoder.Encode(cfg)
	}
	return yaml.NewEncoder(file).Encode(cfg)
}

func DefaultConfig() *Config {
	return &Config{
		Logger:  zap.NewNop(),
		ChainID: 137,
		Tokens:  map[string]TokenConfig{},
		Routes: RoutesConfig{
			File:  "arb_routes.yaml",
			Sizes: []string{"250", "500", "1000", "2500", "5000"},
		},
		Venues: VenuesConfig{
			Order:            []string{"quickswap", "sushiswap", "uniswapv3", "0x", "paraswap", "openocean"},
			QuickSwapRouter:  "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff",
			SushiSwapRouter:  "0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506",
			UniswapV3Quoter:  "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
			UniswapV3Factory: "0x1F98431c8aD98523631AE4a59f267346ea31F984",
			FeeTiers:         []uint32{500, 3000, 10000},
			ZeroXURL:         "https://api.0x.org",
			ParaSwapURL:      "https://apiv5.paraswap.io",
			ParaSwapDexes:    []string{"Balancer", "KyberSwap"},
			OpenOceanURL:     "https://open-api.openocean.finance",
			OpenOceanChain:   "polygon",
			RequestTimeout:   10 * time.Second,
			PairCacheFile:    ".cache/unsupported_pairs.json",
			QuoteOnlyVenues:  []string{"openocean"},
		},
		Quote: QuoteConfig{
			Strategy:       StrategyFallback,
			MinOutputRatio: "0.000001",
			MinFillBps:     1000,
			MinTradeUSD:    0,
			VenueDelay:     20 * time.Millisecond,
		},
		Evaluator: EvaluatorConfig{
			MinProfitUSD:          0.05,
			MaxSlippageBps:        150,
			SlippageOverrides:     map[string]uint32{"DAI": 100, "USDC": 100, "USDT": 100},
			MinIntermediateOutput: "0.000001",
			RequireDistinctVenues: true,
			FlashloanPremiumBps:   9,
		},
		Gas: GasConfig{
			GasStationURL:        "https://gasstation.polygon.technology/v2",
			GasUnits:             500000,
			FallbackGasPriceGwei: 35,
			FallbackNativeUSD:    0.8,
			NativeUSDFeed:        "0xAB594600376Ec9fD91F8e885dADF0CE036862dE0",
			MaxBaseFeeGwei:       90,
			PriorityFeeGwei:      30,
			UpdateInterval:       15 * time.Second,
		},
		Oracle: OracleConfig{
			AaveOracle:   "0xb023e699F5a33916Ea823A16485e259257cA8Bd1",
			CoinGeckoURL: "https://api.coingecko.com/api/v3",
			CoinGeckoNet: "polygon-pos",
			CacheSize:    256,
			CacheTTL:     time.Minute,
		},
		Execution: ExecutionConfig{
			GasLimit:         1000000,
			AavePool:         "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
			AaveDataProvider: "0x69FA688f1Dc47d4B5d8029D5a35FB7a548310654",
			MaxLoanPct:       80,
		},
		Scanner: ScannerConfig{
			Concurrency: 4,
			Interval:    30 * time.Second,
			JournalPath: "logs/journal.db",
		},
		Mempool: MempoolConfig{
			Enabled:       false,
			QueueSize:     256,
			SeenCacheSize: 4096,
			Routers: []string{
				"0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff",
				"0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506",
			},
			LookupRate: RateLimitConfig{
				RequestsPerSecond: 20,
				BurstSize:         40,
				WaitTimeout:       time.Second,
			},
		},
		APIRateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
			WaitTimeout:       10 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:  2,
			BaseBackoff: 1200 * time.Millisecond,
			MaxJitter:   800 * time.Millisecond,
		},
		PrometheusEnabled:  false,
		PrometheusEndpoint: ":9090",
	}
}
