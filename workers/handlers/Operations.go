package handlers

import (
	"net/http"

	"cctpbridge/types"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// GetOperation reports the status and the error kind together
func (a *API) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := a.Bridge.Get(chi.URLParam(r, "id"))
	if err != nil {
		responseError(w, err)
		return
	}
	responseJSON(w, op, http.StatusOK)
}

func (a *API) ResumeOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, err := a.Bridge.ResumeAsync(id)
	if err != nil {
		if op != nil {
			// exists but is terminal or already running
			responseJSON(w, &APIResponse{
				Status:  "error",
				Kind:    "InvalidRequest",
				Message: err.Error(),
			}, http.StatusConflict)
			return
		}
		responseError(w, err)
		return
	}

	a.Logger.Info("bridge operation resumed", zap.String("operation_id", id), zap.String("status", string(op.Status)))
	responseJSON(w, &APIBridgeAccepted{ID: op.ID, Status: op.Status}, http.StatusAccepted)
}

func (a *API) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.Bridge.Cancel(id) {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "Operation is not running",
		}, http.StatusNotFound)
		return
	}
	responseJSON(w, &APIResponse{
		Status:  "ok",
		Message: "Cancel requested",
	}, http.StatusOK)
}

func (a *API) ListOperations(w http.ResponseWriter, r *http.Request) {
	status := types.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = types.StatusFailed
	}
	known := false
	for _, s := range types.AllStatuses {
		if s == status {
			known = true
			break
		}
	}
	if !known {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Field:   "status",
			Message: "Unknown operation status",
		}, http.StatusBadRequest)
		return
	}

	ops, err := a.Bridge.List(status)
	if err != nil {
		a.Logger.Error("error listing bridge operations", zap.String("status", string(status)), zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}

	responseJSON(w, ops, http.StatusOK)
}
