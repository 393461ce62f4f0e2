package simulator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/polyarb/utils/testutils"
)

type revertError struct {
	msg  string
	data string
}

func (e *revertError) Error() string          { return e.msg }
func (e *revertError) ErrorCode() int         { return 3 }
func (e *revertError) ErrorData() interface{} { return e.data }

type fakeBackend struct {
	callErr     error
	estimateErr error
	gas         uint64
	calls       int
	estimates   int
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	f.calls++
	return []byte{0x01}, f.callErr
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.estimates++
	return f.gas, f.estimateErr
}

func encodeRevert(t *testing.T, reason string) string {
	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func testMsg() ethereum.CallMsg {
	to := testutils.Address("ProfitBot")
	return ethereum.CallMsg{From: testutils.Address("owner"), To: &to, Data: []byte{0xde, 0xad}}
}

func TestSimulateSuccess(t *testing.T) {
	backend := &fakeBackend{gas: 412000}
	sim := NewSimulator(backend, zaptest.NewLogger(t))

	res, err := sim.Simulate(context.Background(), testMsg())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(412000), res.GasUsed)
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, 1, backend.estimates)
}

func TestSimulateRevertWithReason(t *testing.T) {
	backend := &fakeBackend{callErr: &revertError{
		msg:  "execution reverted: Not profitable",
		data: encodeRevert(t, "Not profitable"),
	}}
	sim := NewSimulator(backend, zaptest.NewLogger(t))

	res, err := sim.Simulate(context.Background(), testMsg())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Not profitable", res.RevertReason)
	assert.Equal(t, 0, backend.estimates)
}

func TestSimulateEstimateFailure(t *testing.T) {
	backend := &fakeBackend{estimateErr: errors.New("execution reverted: STF")}
	sim := NewSimulator(backend, zaptest.NewLogger(t))

	res, err := sim.Simulate(context.Background(), testMsg())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "STF", res.RevertReason)
}

func TestEstimateGasOnly(t *testing.T) {
	backend := &fakeBackend{gas: 380000}
	sim := NewSimulator(backend, zaptest.NewLogger(t))

	res, err := sim.EstimateGas(context.Background(), testMsg())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(380000), res.GasUsed)
	assert.Equal(t, 0, backend.calls)
}

func TestSimulateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := &fakeBackend{callErr: context.Canceled}
	sim := NewSimulator(backend, zaptest.NewLogger(t))

	_, err := sim.Simulate(ctx, testMsg())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRevertReason(t *testing.T) {
	assert.Equal(t, "", RevertReason(nil))
	assert.Equal(t, "custom error 0xdeadbeef", RevertReason(&revertError{msg: "execution reverted", data: "0xdeadbeef00"}))
	assert.Equal(t, "insufficient funds for gas", RevertReason(errors.New("insufficient funds for gas")))
	assert.Equal(t, "Too little received", RevertReason(&revertError{
		msg:  "execution reverted",
		data: encodeRevert(t, "Too little received"),
	}))
}
