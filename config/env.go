package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPC         = "POLYGON_RPC"
	EnvWS          = "POLYGON_WS"
	EnvPrivateKey  = "PRIVATE_KEY"
	EnvProfitBot   = "PROFITBOT_ADDRESS_POLYGON"
	EnvZeroXAPIKey = "ZEROX_API_KEY"
	EnvDryRun      = "DRY_RUN"
	tokenEnvSuffix = "_POLYGON"
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overlays environment variables on cfg. Token addresses can be
// overridden with <SYMBOL>_POLYGON for symbols already present in the config.
func ApplyEnv(cfg *Config) {
	cfg.RPCEndpoint = GetEnvWithDefault(EnvRPC, cfg.RPCEndpoint)
	cfg.WSEndpoint = GetEnvWithDefault(EnvWS, cfg.WSEndpoint)
	cfg.ProfitBotAddress = GetEnvWithDefault(EnvProfitBot, cfg.ProfitBotAddress)
	cfg.Secrets.PrivateKey = strings.TrimPrefix(os.Getenv(EnvPrivateKey), "0x")
	cfg.Secrets.ZeroXAPIKey = os.Getenv(EnvZeroXAPIKey)

	if v := os.Getenv(EnvDryRun); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}

	for sym, tok := range cfg.Tokens {
		if addr := os.Getenv(strings.ToUpper(sym) + tokenEnvSuffix); addr != "" {
			tok.Address = addr
			cfg.Tokens[sym] = tok
		}
	}
}
