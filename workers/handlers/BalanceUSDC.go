package handlers

import (
	"net/http"
	"strconv"

	"cctpbridge/contracts"
	"cctpbridge/types"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// BalanceUSDC reports the bridging account's USDC balance on one chain
func (a *API) BalanceUSDC(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.Atoi(chi.URLParam(r, "chainId"))
	if err != nil {
		responsePlain(w, []byte("invalid chain id"), http.StatusBadRequest)
		return
	}

	chain, err := a.Chains.Resolve(chainID)
	if err != nil {
		responseError(w, err)
		return
	}

	account, err := a.Wallet.Account(r.Context())
	if err != nil {
		a.Logger.Warn("error getting wallet account", zap.Error(err))
		responseError(w, err)
		return
	}

	balance, err := a.Balances.BalanceOf(r.Context(), chain.ChainID, chain.USDC, account)
	if err != nil {
		a.Logger.Error("error getting balance", zap.Int("chain_id", chainID), zap.Error(err))
		responsePlain(w, []byte("error"), http.StatusInternalServerError)
		return
	}

	responseJSON(w, &APIBalanceResponse{
		ChainID: chain.ChainID,
		Account: account.Hex(),
		Token:   chain.USDC.Hex(),
		Units:   balance.String(),
		Amount:  contracts.FormatUnits(balance, types.StablecoinDecimals),
	}, http.StatusOK)
}
