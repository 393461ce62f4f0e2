package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Backend is the read side of ethclient.Client used for dry runs
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// SimulationResult represents the result of a transaction simulation
type SimulationResult struct {
	Success      bool
	GasUsed      uint64
	ReturnData   []byte
	RevertReason string
	Error        error
}

// Simulator handles transaction simulation
type Simulator struct {
	backend Backend
	logger  *zap.Logger
}

// NewSimulator creates a new transaction simulator
func NewSimulator(backend Backend, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		backend: backend,
		logger:  logger,
	}
}

// Simulate runs msg through eth_call against the pending state and, when it
// does not revert, estimates its gas. A revert is a result, not an error;
// the error return is reserved for a cancelled context.
func (s *Simulator) Simulate(ctx context.Context, msg ethereum.CallMsg) (*SimulationResult, error) {
	out, err := s.backend.CallContract(ctx, msg, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return s.failed(msg, err), nil
	}

	gas, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return s.failed(msg, err), nil
	}

	return &SimulationResult{
		Success:    true,
		GasUsed:    gas,
		ReturnData: out,
	}, nil
}

// EstimateGas only asks the node for a gas estimate, which also fails when
// the call would revert.
func (s *Simulator) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (*SimulationResult, error) {
	gas, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return s.failed(msg, err), nil
	}
	return &SimulationResult{Success: true, GasUsed: gas}, nil
}

func (s *Simulator) failed(msg ethereum.CallMsg, err error) *SimulationResult {
	reason := RevertReason(err)
	to := ""
	if msg.To != nil {
		to = msg.To.Hex()
	}
	s.logger.Warn("Simulation reverted",
		zap.String("to", to),
		zap.String("reason", reason),
		zap.Error(err))
	return &SimulationResult{
		Success:      false,
		RevertReason: reason,
		Error:        err,
	}
}

// RevertReason extracts a human readable reason from a node error. Nodes
// attach the raw revert payload as JSON-RPC error data; Error(string)
// payloads are decoded, anything else is returned as hex.
func RevertReason(err error) string {
	if err == nil {
		return ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok && hexData != "" {
			if data, decErr := hexutil.Decode(hexData); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
				if len(data) >= 4 {
					return fmt.Sprintf("custom error 0x%x", data[:4])
				}
			}
			return hexData
		}
	}

	return strings.TrimPrefix(err.Error(), "execution reverted: ")
}
