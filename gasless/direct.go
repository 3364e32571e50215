package gasless

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"cctpbridge/EVMRPC"
	"cctpbridge/bridgeerr"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// gas estimate is padded by this percentage
const gasBufferPercent = 20

// DirectTransport signs with its own key and pays gas itself
type DirectTransport struct {
	pool    *EVMRPC.Pool
	key     *ecdsa.PrivateKey
	address common.Address
	logger  *zap.Logger

	// one in-flight nonce per chain for the signing account
	mu     sync.Mutex
	chains map[int]*sync.Mutex
}

func NewDirectTransport(pool *EVMRPC.Pool, hexKey string, logger *zap.Logger) (*DirectTransport, error) {
	key, err := crypto.HexToECDSA(trim0x(hexKey))
	if err != nil {
		return nil, fmt.Errorf("error instantiating private key: %w", err)
	}
	return &DirectTransport{
		pool:    pool,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		logger:  logger.Named("direct"),
		chains:  make(map[int]*sync.Mutex),
	}, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func (d *DirectTransport) Name() string {
	return "direct"
}

func (d *DirectTransport) Address() common.Address {
	return d.address
}

func (d *DirectTransport) chainLock(chainID int) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.chains[chainID]
	if !ok {
		l = &sync.Mutex{}
		d.chains[chainID] = l
	}
	return l
}

func (d *DirectTransport) Send(ctx context.Context, tx *Transaction) (*Result, error) {
	if tx.From != (common.Address{}) && tx.From != d.address {
		d.logger.Warn("call made on behalf of another account, signing with own key",
			zap.String("from", tx.From.Hex()),
			zap.String("signer", d.address.Hex()))
	}

	lock := d.chainLock(tx.ChainID)
	lock.Lock()
	hash, err := EVMRPC.WithClient(ctx, d.pool, tx.ChainID, func(client EVMRPC.Backend) (common.Hash, error) {
		return d.signAndSend(ctx, client, tx)
	})
	lock.Unlock()
	if err != nil {
		if bridgeerr.KindOf(err) != bridgeerr.KindInternal {
			return nil, err
		}
		return nil, bridgeerr.Wrap(bridgeerr.KindSubmissionFailed, "direct", err)
	}

	receipt, err := d.pool.WaitReceipt(ctx, tx.ChainID, hash)
	if err != nil {
		return nil, err
	}
	res := &Result{TxHash: hash, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return res, nil
}

func (d *DirectTransport) signAndSend(ctx context.Context, client EVMRPC.Backend, tx *Transaction) (common.Hash, error) {
	nonce, err := client.PendingNonceAt(ctx, d.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error getting nonce for wallet: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("error getting suggested gas price: %w", err)
	}

	to := tx.To
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  d.address,
		To:    &to,
		Value: tx.Value,
		Data:  tx.Data,
	})
	if err != nil {
		// the node simulated the call and it reverts, another RPC would say the same
		return common.Hash{}, EVMRPC.Stop(bridgeerr.Newf(bridgeerr.KindSimulatedRevert, "direct", "transaction would fail: %s", err))
	}
	gas = gas * (100 + gasBufferPercent) / 100

	auth, err := bind.NewKeyedTransactorWithChainID(d.key, big.NewInt(int64(tx.ChainID)))
	if err != nil {
		return common.Hash{}, EVMRPC.Stop(fmt.Errorf("error instantiating transactor: %w", err))
	}

	signed, err := auth.Signer(d.address, ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    tx.Value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     tx.Data,
	}))
	if err != nil {
		return common.Hash{}, EVMRPC.Stop(fmt.Errorf("error signing transaction: %w", err))
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("error sending transaction: %w", err)
	}

	d.logger.Info("transaction broadcast",
		zap.Int("chain_id", tx.ChainID),
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas))
	return signed.Hash(), nil
}
