package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cctpbridge/bridgeerr"
	"cctpbridge/contracts"
	"cctpbridge/poll"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the part of *ethclient.Client the bridge talks to
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	Close()
}

type Dialer func(ctx context.Context, url string) (Backend, error)

func DialEthclient(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}

type ChainSource interface {
	Resolve(chainID int) (types.ChainEndpoint, error)
}

// Pool fails over across the RPC list of each chain
type Pool struct {
	chains              ChainSource
	dial                Dialer
	confirmationTimeout time.Duration
	receiptInterval     time.Duration
	receiptMaxInterval  time.Duration
	logger              *zap.Logger
}

func NewPool(chains ChainSource, dial Dialer, confirmationTimeout time.Duration, logger *zap.Logger) *Pool {
	if dial == nil {
		dial = DialEthclient
	}
	return &Pool{
		chains:              chains,
		dial:                dial,
		confirmationTimeout: confirmationTimeout,
		receiptInterval:     500 * time.Millisecond,
		receiptMaxInterval:  5 * time.Second,
		logger:              logger.Named("evmrpc"),
	}
}

// WithClient runs f against each RPC of the chain until one succeeds.
// Errors marked with Stop end the failover.
func WithClient[T any](ctx context.Context, p *Pool, chainId int, f func(client Backend) (T, error)) (res T, err error) {
	chain, err := p.chains.Resolve(chainId)
	if err != nil {
		return res, bridgeerr.Wrap(bridgeerr.KindUnsupportedChain, "evmrpc", err)
	}
	if len(chain.RPCList) == 0 {
		return res, fmt.Errorf("no RPC configured for chain %d", chainId)
	}

	for _, url := range chain.RPCList {
		var client Backend
		client, err = p.dial(ctx, url)
		if err != nil {
			p.logger.Warn("error connecting to RPC", zap.String("url", url), zap.Error(err))
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil || isStop(err) || ctx.Err() != nil {
			return
		}
		p.logger.Debug("RPC call failed, trying next", zap.String("url", url), zap.Error(err))
	}
	return
}

type stopError struct{ err error }

func (s *stopError) Error() string { return s.err.Error() }
func (s *stopError) Unwrap() error { return s.err }

// Stop marks an error that another RPC endpoint would answer the same way
func Stop(err error) error {
	return &stopError{err: err}
}

func isStop(err error) bool {
	var s *stopError
	return errors.As(err, &s)
}

// Allowance reads ERC20 allowance(owner, spender)
func (p *Pool) Allowance(ctx context.Context, chainID int, token, owner, spender common.Address) (*big.Int, error) {
	data, err := contracts.ERC20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}

	return WithClient(ctx, p, chainID, func(client Backend) (*big.Int, error) {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		values, err := contracts.ERC20.Unpack("allowance", out)
		if err != nil {
			return nil, Stop(fmt.Errorf("cannot decode allowance: %w", err))
		}
		return values[0].(*big.Int), nil
	})
}

func (p *Pool) BalanceOf(ctx context.Context, chainID int, token, owner common.Address) (*big.Int, error) {
	data, err := contracts.ERC20.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}

	return WithClient(ctx, p, chainID, func(client Backend) (*big.Int, error) {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, err
		}
		values, err := contracts.ERC20.Unpack("balanceOf", out)
		if err != nil {
			return nil, Stop(fmt.Errorf("cannot decode balance: %w", err))
		}
		return values[0].(*big.Int), nil
	})
}

// MessageReceived reports whether the destination transmitter has already
// consumed message, i.e. its usedNonces entry is set
func (p *Pool) MessageReceived(ctx context.Context, chainID int, transmitter common.Address, message []byte) (bool, error) {
	key, err := contracts.MessageNonceKey(message)
	if err != nil {
		return false, err
	}
	data, err := contracts.MessageTransmitter.Pack("usedNonces", [32]byte(key))
	if err != nil {
		return false, err
	}

	return WithClient(ctx, p, chainID, func(client Backend) (bool, error) {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &transmitter, Data: data}, nil)
		if err != nil {
			return false, err
		}
		values, err := contracts.MessageTransmitter.Unpack("usedNonces", out)
		if err != nil {
			return false, Stop(fmt.Errorf("cannot decode usedNonces: %w", err))
		}
		return values[0].(*big.Int).Sign() != 0, nil
	})
}

// WaitReceipt blocks until the transaction is mined, the confirmation timeout
// passes or ctx ends. A mined transaction with status 0 is a Reverted error.
func (p *Pool) WaitReceipt(ctx context.Context, chainID int, txHash common.Hash) (*ethtypes.Receipt, error) {
	started := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.confirmationTimeout)
	defer cancel()

	task := poll.New(func(ctx context.Context, attempt int) (*ethtypes.Receipt, bool, error) {
		receipt, err := WithClient(ctx, p, chainID, func(client Backend) (*ethtypes.Receipt, error) {
			return client.TransactionReceipt(ctx, txHash)
		})
		if errors.Is(err, ethereum.NotFound) {
			return nil, false, nil
		}
		if bridgeerr.KindOf(err) == bridgeerr.KindUnsupportedChain {
			return nil, false, poll.Permanent(err)
		}
		if err != nil {
			return nil, false, err
		}
		return receipt, true, nil
	}, poll.Exponential(p.receiptInterval, p.receiptMaxInterval), 0)

	receipt, err := task.Run(waitCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindCanceled, "confirmation", ctx.Err())
		}
		if waitCtx.Err() != nil {
			return nil, bridgeerr.Timeout(bridgeerr.KindConfirmationTimeout, "confirmation", time.Since(started),
				fmt.Errorf("transaction %s on chain %d not mined", txHash.Hex(), chainID))
		}
		return nil, err
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return receipt, bridgeerr.Newf(bridgeerr.KindReverted, "confirmation", "transaction %s reverted on chain %d", txHash.Hex(), chainID)
	}

	p.logger.Debug("transaction confirmed",
		zap.Int("chain_id", chainID),
		zap.String("tx_hash", txHash.Hex()),
		zap.Stringer("block", receipt.BlockNumber))
	return receipt, nil
}
