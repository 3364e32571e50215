package gasless

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cctpbridge/bridgeerr"
	"cctpbridge/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const okTxHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

func relayServer(t *testing.T, status int, body interface{}, seen *RelayRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/relay", r.URL.Path)
		if r.Method == http.MethodPost && seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func approveCall() Call {
	return Call{
		ChainID: 23244,
		To:      common.HexToAddress("0x3600000000000000000000000000000000000000"),
		From:    common.HexToAddress("0x1111111111111111111111111111111111111111"),
		ABI:     contracts.ERC20,
		Method:  "approve",
		Args:    []interface{}{common.HexToAddress("0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"), big.NewInt(100_000000)},
	}
}

func TestRelaySubmit(t *testing.T) {
	t.Run("success encodes the call", func(t *testing.T) {
		var seen RelayRequest
		server := relayServer(t, http.StatusOK, RelayResponse{Success: true, TxHash: okTxHash, BlockNumber: "123", GasUsed: "46000"}, &seen)
		reader := &staticReader{}
		submitter := NewSubmitter(NewRelayTransport(server.URL, reader, 0, zap.NewNop()), nil, zap.NewNop())

		res, err := submitter.Submit(context.Background(), approveCall())
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash(okTxHash), res.TxHash)
		assert.Equal(t, []common.Hash{common.HexToHash(okTxHash)}, reader.waited)
		assert.Equal(t, uint64(123), res.BlockNumber)
		assert.Equal(t, uint64(46000), res.GasUsed)

		call := approveCall()
		want, err := contracts.ERC20.Pack("approve", call.Args...)
		require.NoError(t, err)
		assert.Equal(t, 23244, seen.ChainID)
		assert.Equal(t, call.To.Hex(), seen.To)
		assert.Equal(t, hexutil.Encode(want), seen.Data)
		assert.Equal(t, "0x0", seen.Value)
		assert.Equal(t, call.From.Hex(), seen.UserAddress)
	})

	cases := []struct {
		name      string
		status    int
		body      RelayResponse
		kind      bridgeerr.Kind
		retryable bool
	}{
		{"simulated revert", http.StatusBadRequest, RelayResponse{Error: "Transaction would fail", Details: "execution reverted"}, bridgeerr.KindSimulatedRevert, false},
		{"unsupported chain", http.StatusBadRequest, RelayResponse{Error: "Chain 1 not supported for gasless transactions"}, bridgeerr.KindUnsupportedChain, false},
		{"missing fields", http.StatusBadRequest, RelayResponse{Error: "Missing required fields: chainId, to, data"}, bridgeerr.KindInvalidRequest, false},
		{"relayer unconfigured", http.StatusInternalServerError, RelayResponse{Error: "Relayer not configured on server"}, bridgeerr.KindRelayerUnconfigured, false},
		{"relay failure", http.StatusInternalServerError, RelayResponse{Error: "Failed to relay transaction", Details: "nonce too low"}, bridgeerr.KindSubmissionFailed, true},
		{"gateway", http.StatusBadGateway, RelayResponse{}, bridgeerr.KindSubmissionFailed, true},
		{"ok without hash", http.StatusOK, RelayResponse{Success: true}, bridgeerr.KindSubmissionFailed, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := relayServer(t, tc.status, tc.body, nil)
			submitter := NewSubmitter(NewRelayTransport(server.URL, &staticReader{}, 0, zap.NewNop()), nil, zap.NewNop())

			_, err := submitter.Submit(context.Background(), approveCall())
			require.Error(t, err)
			assert.Equal(t, tc.kind, bridgeerr.KindOf(err))
			assert.Equal(t, tc.retryable, bridgeerr.IsRetryable(err))
		})
	}

	t.Run("reverted on chain despite relayer success", func(t *testing.T) {
		server := relayServer(t, http.StatusOK, RelayResponse{Success: true, TxHash: okTxHash}, nil)
		reader := &staticReader{reverted: true}
		submitter := NewSubmitter(NewRelayTransport(server.URL, reader, 0, zap.NewNop()), nil, zap.NewNop())

		res, err := submitter.Submit(context.Background(), approveCall())
		assert.Nil(t, res)
		assert.Equal(t, bridgeerr.KindReverted, bridgeerr.KindOf(err))
		assert.False(t, bridgeerr.IsRetryable(err))
		assert.Contains(t, err.Error(), okTxHash)
	})

	t.Run("unconfirmed relayed transaction", func(t *testing.T) {
		server := relayServer(t, http.StatusOK, RelayResponse{Success: true, TxHash: okTxHash}, nil)
		reader := &staticReader{waitErr: bridgeerr.Timeout(bridgeerr.KindConfirmationTimeout, "confirmation", time.Second, errors.New("not mined"))}
		submitter := NewSubmitter(NewRelayTransport(server.URL, reader, 0, zap.NewNop()), nil, zap.NewNop())

		_, err := submitter.Submit(context.Background(), approveCall())
		assert.Equal(t, bridgeerr.KindConfirmationTimeout, bridgeerr.KindOf(err))
	})

	t.Run("relayer down", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		submitter := NewSubmitter(NewRelayTransport(url, &staticReader{}, 0, zap.NewNop()), nil, zap.NewNop())
		_, err := submitter.Submit(context.Background(), approveCall())
		assert.Equal(t, bridgeerr.KindSubmissionFailed, bridgeerr.KindOf(err))
	})

	t.Run("unknown method is rejected before sending", func(t *testing.T) {
		call := approveCall()
		call.Method = "transferFrom"
		submitter := NewSubmitter(NewRelayTransport("http://unused", &staticReader{}, 0, zap.NewNop()), nil, zap.NewNop())

		_, err := submitter.Submit(context.Background(), call)
		assert.Equal(t, bridgeerr.KindInvalidRequest, bridgeerr.KindOf(err))
	})
}

func TestRelayHealth(t *testing.T) {
	server := relayServer(t, http.StatusOK, RelayHealth{Status: "online", RelayerConfigured: true, SupportedChains: []int{84532, 23244}}, nil)

	health, err := NewRelayTransport(server.URL, nil, 0, zap.NewNop()).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "online", health.Status)
	assert.True(t, health.RelayerConfigured)
	assert.ElementsMatch(t, []int{23244, 84532}, health.SupportedChains)
}
