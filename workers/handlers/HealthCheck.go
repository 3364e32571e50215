package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// HealthCheck fails when the store is unreachable, nothing can progress without it
func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if a.Store != nil {
		if err := a.Store.Ping(); err != nil {
			a.Logger.Warn("store ping failed", zap.Error(err))
			responseJSON(w, &APIResponse{
				Status:  "error",
				Message: "store unavailable",
			}, http.StatusServiceUnavailable)
			return
		}
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}
