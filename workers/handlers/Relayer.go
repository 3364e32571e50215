package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

func (a *API) RelayerHealth(w http.ResponseWriter, r *http.Request) {
	if a.Relayer == nil {
		responseJSON(w, &APIResponse{
			Status:  "ok",
			Message: "transactions are signed locally, no relayer in use",
		}, http.StatusOK)
		return
	}

	health, err := a.Relayer.Health(r.Context())
	if err != nil {
		a.Logger.Warn("relayer health check failed", zap.Error(err))
		responseError(w, err)
		return
	}
	code := http.StatusOK
	if !health.RelayerConfigured {
		code = http.StatusServiceUnavailable
	}
	responseJSON(w, health, code)
}
