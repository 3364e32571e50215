package WalletRPC

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cctpbridge/bridgeerr"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ybbus/jsonrpc"
	"go.uber.org/zap"
)

// EIP-1193 provider error codes
const (
	codeUserRejected   = 4001
	codeUnauthorized   = 4100
	codeUnrecognized   = 4902
	defaultRPCTimeout  = 30 * time.Second
	switchChainMethod  = "wallet_switchEthereumChain"
	accountsMethod     = "eth_accounts"
	currentChainMethod = "eth_chainId"
)

// Wallet owns the bridging account and the chain it currently signs for
type Wallet interface {
	Account(ctx context.Context) (common.Address, error)
	SwitchChain(ctx context.Context, chainID int) error
}

// RPCClient talks to an external wallet over JSON-RPC
type RPCClient struct {
	Client jsonrpc.RPCClient
	logger *zap.Logger
}

func NewRPCClient(url string, timeout time.Duration, logger *zap.Logger) *RPCClient {
	if timeout == 0 {
		timeout = defaultRPCTimeout
	}
	return &RPCClient{
		Client: jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: timeout},
		}),
		logger: logger.Named("wallet"),
	}
}

// call runs a request off the caller goroutine so ctx can abandon it
func (c *RPCClient) call(ctx context.Context, method string, params ...interface{}) (*jsonrpc.RPCResponse, error) {
	type result struct {
		resp *jsonrpc.RPCResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.Client.Call(method, params...)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp == nil {
			return nil, fmt.Errorf("%s: empty response", method)
		}
		if r.resp.Error != nil {
			return nil, r.resp.Error
		}
		return r.resp, nil
	}
}

func (c *RPCClient) Account(ctx context.Context) (common.Address, error) {
	resp, err := c.call(ctx, accountsMethod)
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet accounts: %w", err)
	}
	var accounts []string
	if err := resp.GetObject(&accounts); err != nil {
		return common.Address{}, fmt.Errorf("wallet accounts: %w", err)
	}
	if len(accounts) == 0 || !common.IsHexAddress(accounts[0]) {
		return common.Address{}, errors.New("wallet exposes no account")
	}
	return common.HexToAddress(accounts[0]), nil
}

func (c *RPCClient) ChainID(ctx context.Context) (int, error) {
	resp, err := c.call(ctx, currentChainMethod)
	if err != nil {
		return 0, fmt.Errorf("wallet chain id: %w", err)
	}
	s, err := resp.GetString()
	if err != nil {
		return 0, fmt.Errorf("wallet chain id: %w", err)
	}
	id, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("wallet chain id %q: %w", s, err)
	}
	return int(id), nil
}

// SwitchChain asks the wallet to sign for chainID. A refusal is ChainSwitchRejected.
func (c *RPCClient) SwitchChain(ctx context.Context, chainID int) error {
	params := []interface{}{map[string]string{"chainId": hexutil.EncodeUint64(uint64(chainID))}}
	_, err := c.call(ctx, switchChainMethod, params)
	if err == nil {
		c.logger.Info("wallet switched chain", zap.Int("chain_id", chainID))
		return nil
	}

	if ctx.Err() != nil {
		return bridgeerr.Wrap(bridgeerr.KindCanceled, "switch chain", err)
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeUnrecognized:
			return bridgeerr.Wrap(bridgeerr.KindUnsupportedChain, "switch chain", err)
		case codeUserRejected, codeUnauthorized:
			c.logger.Info("chain switch rejected", zap.Int("chain_id", chainID), zap.String("reason", rpcErr.Message))
		}
	}
	return bridgeerr.Wrap(bridgeerr.KindChainSwitchRejected, "switch chain", err)
}

// LocalWallet is a service-held key, it can sign on any chain without asking
type LocalWallet struct {
	address common.Address
	mu      sync.Mutex
	chainID int
}

// NewLocalWallet derives the account from hexKey, or uses account when no key is given
func NewLocalWallet(hexKey string, account string) (*LocalWallet, error) {
	if hexKey != "" {
		key, err := crypto.HexToECDSA(trim0x(hexKey))
		if err != nil {
			return nil, fmt.Errorf("error instantiating private key: %w", err)
		}
		return &LocalWallet{address: crypto.PubkeyToAddress(key.PublicKey)}, nil
	}
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("wallet account %q is not an address", account)
	}
	return &LocalWallet{address: common.HexToAddress(account)}, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (w *LocalWallet) Account(ctx context.Context) (common.Address, error) {
	return w.address, nil
}

func (w *LocalWallet) SwitchChain(ctx context.Context, chainID int) error {
	w.mu.Lock()
	w.chainID = chainID
	w.mu.Unlock()
	return nil
}

func (w *LocalWallet) CurrentChain() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}
