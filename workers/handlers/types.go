package handlers

import (
	"context"
	"math/big"

	"cctpbridge/gasless"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// APIBridgeAccepted answers a submitted or resumed operation
type APIBridgeAccepted struct {
	ID     string       `json:"id"`
	Status types.Status `json:"status"`
}

type APIStateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type APIBalanceResponse struct {
	ChainID int    `json:"chainId"`
	Account string `json:"account"`
	Token   string `json:"token"`
	Units   string `json:"units"`
	Amount  string `json:"amount"`
}

type BridgeService interface {
	Start(req types.BurnRequest) (*types.BridgeOperation, error)
	Get(id string) (*types.BridgeOperation, error)
	ResumeAsync(id string) (*types.BridgeOperation, error)
	Cancel(id string) bool
	List(status types.Status) ([]*types.BridgeOperation, error)
}

type RelayerChecker interface {
	Health(ctx context.Context) (*gasless.RelayHealth, error)
}

type BalanceReader interface {
	BalanceOf(ctx context.Context, chainID int, token, owner common.Address) (*big.Int, error)
}

type Chains interface {
	Resolve(chainID int) (types.ChainEndpoint, error)
}

type Pinger interface {
	Ping() error
}

type AccountSource interface {
	Account(ctx context.Context) (common.Address, error)
}

// API holds what the handlers need. Relayer is nil when transactions are signed locally.
type API struct {
	Bridge   BridgeService
	Relayer  RelayerChecker
	Balances BalanceReader
	Chains   Chains
	Wallet   AccountSource
	Store    Pinger
	Logger   *zap.Logger
}
