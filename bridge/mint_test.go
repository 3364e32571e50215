package bridge

import (
	"context"
	"testing"
	"time"

	"cctpbridge/bridgeerr"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayedBridge(t *testing.T) {
	t.Run("confirmed on chain", func(t *testing.T) {
		env, rl := relayedEnv(t)

		op, err := env.orch.BridgeUSDC(context.Background(), swapRequest())
		require.NoError(t, err)
		assert.Equal(t, types.StatusComplete, op.Status)
		require.NotNil(t, op.Mint)
		assert.Equal(t, rl.relayed("receiveMessage")[0], op.Mint.TransactionHash)
		assert.Equal(t, rl.relayed("swapExactTokensForTokens")[0].Hex(), op.SwapTxHash)
		assert.Contains(t, env.chain.waited, op.Mint.TransactionHash)
	})

	t.Run("mint reverted on chain", func(t *testing.T) {
		env, rl := relayedEnv(t, "receiveMessage")

		op, err := env.orch.BridgeUSDC(context.Background(), baseRequest())
		assert.Equal(t, bridgeerr.KindReverted, bridgeerr.KindOf(err))
		assert.Equal(t, types.StatusFailed, op.Status)
		assert.Nil(t, op.Mint)
		require.NotNil(t, op.Error)
		assert.Equal(t, "Reverted", op.Error.Kind)
		assert.Equal(t, types.StatusMinting, op.Error.Status)
		assert.Contains(t, op.Error.Message, rl.relayed("receiveMessage")[0].Hex())

		stored := env.stored(t, op.ID)
		assert.Equal(t, types.StatusFailed, stored.Status)
		assert.Nil(t, stored.Mint)
	})

	t.Run("swap reverted on chain is a partial success", func(t *testing.T) {
		env, rl := relayedEnv(t, "swapExactTokensForTokens")

		op, err := env.orch.BridgeUSDC(context.Background(), swapRequest())
		assert.Equal(t, bridgeerr.KindPartialSuccess, bridgeerr.KindOf(err))
		assert.Equal(t, types.StatusPartialSuccess, op.Status)
		require.NotNil(t, op.Mint)
		assert.Equal(t, rl.relayed("receiveMessage")[0], op.Mint.TransactionHash)
		assert.Nil(t, op.Error)
		require.NotNil(t, op.SwapError)
		assert.Equal(t, "Reverted", op.SwapError.Kind)
		assert.Empty(t, op.SwapTxHash)
		assert.Len(t, rl.relayed("swapExactTokensForTokens"), 1)
	})
}

func TestMintAlreadyReceived(t *testing.T) {
	t.Run("resume after the mint landed", func(t *testing.T) {
		env := newEnv(t, 0)
		env.transport.fail("receiveMessage",
			bridgeerr.New(bridgeerr.KindSubmissionFailed, "relay", "relayer unavailable"),
			bridgeerr.New(bridgeerr.KindSubmissionFailed, "relay", "relayer unavailable"),
			bridgeerr.New(bridgeerr.KindSubmissionFailed, "relay", "relayer unavailable"))

		op, err := env.orch.BridgeUSDC(context.Background(), baseRequest())
		assert.Equal(t, bridgeerr.KindSubmissionFailed, bridgeerr.KindOf(err))
		assert.Equal(t, types.StatusMinting, op.Status)
		assert.Len(t, env.transport.callsOf("receiveMessage"), 3)

		// the last relayed call went through after all
		env.chain.receivedFrom = 1
		resumed, err := env.orch.Resume(context.Background(), op.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusComplete, resumed.Status)
		require.NotNil(t, resumed.Mint)
		assert.True(t, resumed.Mint.AlreadyReceived)
		assert.Equal(t, common.Hash{}, resumed.Mint.TransactionHash)
		assert.Len(t, env.transport.callsOf("receiveMessage"), 3)
	})

	t.Run("replayed mint reverts", func(t *testing.T) {
		env := newEnv(t, 0)
		env.chain.receivedFrom = 2
		env.transport.fail("receiveMessage", bridgeerr.New(bridgeerr.KindSimulatedRevert, "relay", "Nonce already used"))

		op, err := env.orch.BridgeUSDC(context.Background(), baseRequest())
		require.NoError(t, err)
		assert.Equal(t, types.StatusComplete, op.Status)
		require.NotNil(t, op.Mint)
		assert.True(t, op.Mint.AlreadyReceived)
		assert.Equal(t, 2, env.chain.checks())
	})

	t.Run("revert of an unreceived message fails", func(t *testing.T) {
		env := newEnv(t, 0)
		env.transport.fail("receiveMessage", bridgeerr.New(bridgeerr.KindSimulatedRevert, "relay", "Invalid attestation"))

		op, err := env.orch.BridgeUSDC(context.Background(), baseRequest())
		assert.Equal(t, bridgeerr.KindSimulatedRevert, bridgeerr.KindOf(err))
		assert.Equal(t, types.StatusMinting, op.Status)
		assert.Nil(t, op.Mint)
		assert.Equal(t, 2, env.chain.checks())
	})

	t.Run("unreadable nonce state still mints", func(t *testing.T) {
		env := newEnv(t, 0)
		env.chain.receivedErr = bridgeerr.New(bridgeerr.KindSubmissionFailed, "rpc", "connection refused")

		op, err := env.orch.BridgeUSDC(context.Background(), baseRequest())
		require.NoError(t, err)
		assert.Equal(t, types.StatusComplete, op.Status)
		assert.False(t, op.Mint.AlreadyReceived)
		assert.Len(t, env.transport.callsOf("receiveMessage"), 1)
	})

	t.Run("recovered after a crash while minting", func(t *testing.T) {
		env := newEnv(t, 0)
		env.transport.fail("receiveMessage",
			bridgeerr.New(bridgeerr.KindSubmissionFailed, "relay", "relayer unavailable"),
			bridgeerr.New(bridgeerr.KindSubmissionFailed, "relay", "relayer unavailable"),
			bridgeerr.New(bridgeerr.KindSubmissionFailed, "relay", "relayer unavailable"))
		op, _ := env.orch.BridgeUSDC(context.Background(), baseRequest())
		require.Equal(t, types.StatusMinting, op.Status)

		// a process that died mid-mint leaves no error behind
		crashed := env.stored(t, op.ID)
		crashed.Error = nil
		require.NoError(t, env.store.UpsertBridgeOperation(crashed))
		env.chain.receivedFrom = 1

		launched, err := env.orch.RecoverPending()
		require.NoError(t, err)
		assert.Equal(t, 1, launched)

		require.Eventually(t, func() bool {
			stored, _ := env.store.GetBridgeOperation(op.ID)
			return stored.Status == types.StatusComplete
		}, 2*time.Second, 5*time.Millisecond)
		assert.True(t, env.stored(t, op.ID).Mint.AlreadyReceived)
		assert.Len(t, env.transport.callsOf("receiveMessage"), 3)
	})
}
