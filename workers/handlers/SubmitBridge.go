package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"cctpbridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// SubmitBridge validates the transfer synchronously and runs it in the background
func (a *API) SubmitBridge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.Logger.Warn("error reading request body", zap.Error(err))
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Error reading request body",
		}, http.StatusBadRequest)
		return
	}

	var req types.BurnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		a.Logger.Debug("error unmarshalling request body", zap.Error(err))
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Cannot unmarshal input JSON",
		}, http.StatusBadRequest)
		return
	}

	if !common.IsHexAddress(req.Recipient) {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Field:   "recipient",
			Kind:    "InvalidRequest",
			Message: "No recipient address or invalid address provided",
		}, http.StatusBadRequest)
		return
	}
	if err := ethav.Validate(common.HexToAddress(req.Recipient).Hex()); err != nil {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Field:   "recipient",
			Kind:    "InvalidRequest",
			Message: err.Error(),
		}, http.StatusBadRequest)
		return
	}

	op, err := a.Bridge.Start(req)
	if err != nil {
		a.Logger.Info("bridge request rejected", zap.Error(err))
		responseError(w, err)
		return
	}

	responseJSON(w, &APIBridgeAccepted{ID: op.ID, Status: op.Status}, http.StatusAccepted)
}
