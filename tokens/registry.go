package tokens

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/config"
)

var (
	ErrUnknownToken  = errors.New("unknown token")
	ErrEmptyRegistry = errors.New("no valid tokens configured")
)

// Aliases resolve to another symbol when they are not declared themselves
var Aliases = map[string]string{
	"MATIC": "WMATIC",
	"POL":   "WMATIC",
}

const maxDecimals = 36

const erc20DecimalsABI = `[{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

var decimalsABI abi.ABI

func init() {
	var err error
	decimalsABI, err = abi.JSON(strings.NewReader(erc20DecimalsABI))
	if err != nil {
		panic(err)
	}
}

// Token is immutable once loaded
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%s, %d)", t.Symbol, t.Address.Hex(), t.Decimals)
}

// Registry maps symbol <-> checksummed address <-> decimals. It is read-only
// after construction and safe for concurrent use.
type Registry struct {
	bySymbol  map[string]Token
	byAddress map[common.Address]Token
}

// NewRegistry validates every configured token. Invalid entries are logged
// and dropped so one bad symbol does not take down the others; an error is
// returned only when nothing valid remains.
func NewRegistry(cfg map[string]config.TokenConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	symbols := make([]string, 0, len(cfg))
	for sym := range cfg {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var tokens []Token
	for _, sym := range symbols {
		tok, err := parseToken(sym, cfg[sym])
		if err != nil {
			logger.Error("Skipping invalid token", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		tokens = append(tokens, tok)
	}

	return build(tokens, logger)
}

func build(tokens []Token, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		bySymbol:  make(map[string]Token, len(tokens)),
		byAddress: make(map[common.Address]Token, len(tokens)),
	}

	for _, tok := range tokens {
		if prev, ok := r.byAddress[tok.Address]; ok {
			logger.Error("Skipping token with duplicate address",
				zap.String("symbol", tok.Symbol),
				zap.String("existing", prev.Symbol),
				zap.String("address", tok.Address.Hex()))
			continue
		}
		r.bySymbol[tok.Symbol] = tok
		r.byAddress[tok.Address] = tok
	}

	if len(r.bySymbol) == 0 {
		return nil, ErrEmptyRegistry
	}

	for alias, target := range Aliases {
		if _, declared := r.bySymbol[alias]; declared {
			continue
		}
		if tok, ok := r.bySymbol[target]; ok {
			r.bySymbol[alias] = tok
			logger.Debug("Token alias set", zap.String("alias", alias), zap.String("target", target))
		}
	}

	return r, nil
}

func parseToken(sym string, tc config.TokenConfig) (Token, error) {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if sym == "" {
		return Token{}, fmt.Errorf("empty symbol")
	}
	addr, err := ParseAddress(tc.Address)
	if err != nil {
		return Token{}, err
	}
	if tc.Decimals == 0 || tc.Decimals > maxDecimals {
		return Token{}, fmt.Errorf("decimals must be within 1..%d, got %d", maxDecimals, tc.Decimals)
	}
	return Token{Symbol: sym, Address: addr, Decimals: tc.Decimals}, nil
}

// ParseAddress accepts a 0x-prefixed 20-byte hex address. Mixed-case input
// must carry a valid EIP-55 checksum; all-lower or all-upper input is
// accepted as is.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != s {
		return common.Address{}, fmt.Errorf("bad checksum for %q", s)
	}
	return addr, nil
}

// BySymbol looks a token up by symbol, case-insensitively
func (r *Registry) BySymbol(sym string) (Token, error) {
	tok, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(sym))]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, sym)
	}
	return tok, nil
}

func (r *Registry) ByAddress(addr common.Address) (Token, bool) {
	tok, ok := r.byAddress[addr]
	return tok, ok
}

// ByHex looks a token up by hex address in any letter case
func (r *Registry) ByHex(s string) (Token, bool) {
	if !common.IsHexAddress(s) {
		return Token{}, false
	}
	return r.ByAddress(common.HexToAddress(s))
}

// Resolve maps route symbols to tokens, failing on the first unknown one
func (r *Registry) Resolve(symbols []string) ([]Token, error) {
	out := make([]Token, len(symbols))
	for i, sym := range symbols {
		tok, err := r.BySymbol(sym)
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}

// Symbols returns every resolvable symbol, aliases included, sorted
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for sym := range r.bySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Tokens returns the canonical tokens (no aliases) sorted by symbol
func (r *Registry) Tokens() []Token {
	out := make([]Token, 0, len(r.byAddress))
	for _, tok := range r.byAddress {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Registry) Len() int {
	return len(r.byAddress)
}

// DecimalsMismatch describes a token whose configured decimals disagree with the chain
type DecimalsMismatch struct {
	Token   Token
	OnChain uint8
	CallErr error
}

// VerifyDecimals calls decimals() on every token and returns a new registry
// without the tokens that disagree with the chain or could not be read.
func (r *Registry) VerifyDecimals(ctx context.Context, caller bind.ContractCaller, logger *zap.Logger) (*Registry, []DecimalsMismatch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		kept       []Token
		mismatches []DecimalsMismatch
	)
	for _, tok := range r.Tokens() {
		onChain, err := fetchDecimals(ctx, caller, tok.Address)
		if err != nil || onChain != tok.Decimals {
			mismatches = append(mismatches, DecimalsMismatch{Token: tok, OnChain: onChain, CallErr: err})
			logger.Error("Dropping token with unverifiable decimals",
				zap.String("symbol", tok.Symbol),
				zap.Uint8("configured", tok.Decimals),
				zap.Uint8("onchain", onChain),
				zap.Error(err))
			continue
		}
		kept = append(kept, tok)
	}

	verified, err := build(kept, logger)
	if err != nil {
		return nil, mismatches, err
	}
	return verified, mismatches, nil
}

func fetchDecimals(ctx context.Context, caller bind.ContractCaller, token common.Address) (uint8, error) {
	contract := bind.NewBoundContract(token, decimalsABI, caller, nil, nil)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("decimals() on %s: %w", token.Hex(), err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals() on %s: unexpected output", token.Hex())
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals() on %s: unexpected type %T", token.Hex(), out[0])
	}
	return d, nil
}
