package gasless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cctpbridge/bridgeerr"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// relayer answers after the transaction is mined, leave room for that
const defaultRelayTimeout = 90 * time.Second

type RelayRequest struct {
	ChainID     int    `json:"chainId"`
	To          string `json:"to"`
	Data        string `json:"data"`
	Value       string `json:"value"`
	UserAddress string `json:"userAddress"`
}

type RelayResponse struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"txHash"`
	BlockNumber string `json:"blockNumber,omitempty"`
	GasUsed     string `json:"gasUsed,omitempty"`
	Error       string `json:"error,omitempty"`
	Details     string `json:"details,omitempty"`
}

type RelayHealth struct {
	Status            string `json:"status"`
	RelayerConfigured bool   `json:"relayerConfigured"`
	SupportedChains   []int  `json:"supportedChains"`
}

// ReceiptWaiter confirms a relayed transaction on chain. A mined transaction
// with status 0 must come back as a Reverted error.
type ReceiptWaiter interface {
	WaitReceipt(ctx context.Context, chainID int, txHash common.Hash) (*ethtypes.Receipt, error)
}

// RelayTransport posts transactions to the relayer's /api/relay endpoint.
// The relayer reports success once the transaction is mined, whatever its
// status, so every answer is checked against the receipt.
type RelayTransport struct {
	baseURL        string
	receipts       ReceiptWaiter
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

func NewRelayTransport(baseURL string, receipts ReceiptWaiter, timeout time.Duration, logger *zap.Logger) *RelayTransport {
	if timeout == 0 {
		timeout = defaultRelayTimeout
	}
	logger = logger.Named("relay")

	cbSettings := gobreaker.Settings{
		Name:        "Relayer",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		// a reverting call is the caller's problem, not the relayer's
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind := bridgeerr.KindOf(err)
			return kind == bridgeerr.KindSimulatedRevert || kind == bridgeerr.KindUnsupportedChain || kind == bridgeerr.KindInvalidRequest
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("relayer circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &RelayTransport{
		baseURL:        strings.TrimRight(baseURL, "/"),
		receipts:       receipts,
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		logger:         logger,
	}
}

func (r *RelayTransport) Name() string {
	return "relay"
}

func (r *RelayTransport) Send(ctx context.Context, tx *Transaction) (*Result, error) {
	res, err := r.circuitBreaker.Execute(func() (interface{}, error) {
		return r.send(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, bridgeerr.Wrap(bridgeerr.KindSubmissionFailed, "relay", err)
		}
		return nil, err
	}
	result := res.(*Result)

	if r.receipts == nil {
		return nil, bridgeerr.New(bridgeerr.KindInternal, "relay", "no receipt reader to confirm relayed transactions")
	}
	receipt, err := r.receipts.WaitReceipt(ctx, tx.ChainID, result.TxHash)
	if err != nil {
		r.logger.Warn("relayed transaction not confirmed",
			zap.Int("chain_id", tx.ChainID),
			zap.String("tx_hash", result.TxHash.Hex()),
			zap.Error(err))
		return nil, err
	}
	if result.BlockNumber == 0 && receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if result.GasUsed == 0 {
		result.GasUsed = receipt.GasUsed
	}
	return result, nil
}

func (r *RelayTransport) send(ctx context.Context, tx *Transaction) (*Result, error) {
	body, err := json.Marshal(&RelayRequest{
		ChainID:     tx.ChainID,
		To:          tx.To.Hex(),
		Data:        hexutil.Encode(tx.Data),
		Value:       hexutil.EncodeBig(tx.Value),
		UserAddress: tx.From.Hex(),
	})
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, "relay", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/relay", bytes.NewReader(body))
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, "relay", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindSubmissionFailed, "relay", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindSubmissionFailed, "relay", err)
	}

	var out RelayResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
			return nil, bridgeerr.Wrap(bridgeerr.KindSubmissionFailed, "relay", fmt.Errorf("unmarshal response: %w", err))
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyRelayError(resp.StatusCode, &out)
	}

	if !out.Success || !isHash(out.TxHash) {
		return nil, bridgeerr.Newf(bridgeerr.KindSubmissionFailed, "relay", "relayer answered without a transaction hash: %s", string(raw))
	}

	result := &Result{TxHash: common.HexToHash(out.TxHash)}
	result.BlockNumber, _ = strconv.ParseUint(out.BlockNumber, 10, 64)
	result.GasUsed, _ = strconv.ParseUint(out.GasUsed, 10, 64)
	return result, nil
}

func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// classifyRelayError maps the relayer's error strings to error kinds
func classifyRelayError(status int, resp *RelayResponse) error {
	msg := resp.Error
	if resp.Details != "" {
		msg += ": " + resp.Details
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	lower := strings.ToLower(resp.Error)

	switch {
	case status == http.StatusBadRequest && strings.Contains(lower, "would fail"):
		return bridgeerr.Newf(bridgeerr.KindSimulatedRevert, "relay", "%s", msg)
	case status == http.StatusBadRequest && strings.Contains(lower, "not supported"):
		return bridgeerr.Newf(bridgeerr.KindUnsupportedChain, "relay", "%s", msg)
	case status == http.StatusBadRequest:
		return bridgeerr.Newf(bridgeerr.KindInvalidRequest, "relay", "%s", msg)
	case strings.Contains(lower, "not configured"):
		return bridgeerr.Newf(bridgeerr.KindRelayerUnconfigured, "relay", "%s", msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return bridgeerr.Newf(bridgeerr.KindSubmissionFailed, "relay", "%s", msg)
	default:
		return bridgeerr.Newf(bridgeerr.KindSubmissionFailed, "relay", "unexpected status %d: %s", status, msg)
	}
}

// Health queries GET /api/relay
func (r *RelayTransport) Health(ctx context.Context) (*RelayHealth, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/relay", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relayer health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relayer health: status %d", resp.StatusCode)
	}

	var health RelayHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("relayer health: %w", err)
	}
	return &health, nil
}
