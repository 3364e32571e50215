package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"cctpbridge/bridge"
	"cctpbridge/bridgeerr"
)

func responseJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func responsePlain(w http.ResponseWriter, data []byte, code int) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	w.Write(data)
}

// responseError maps an error kind to a status code, the kind goes along in the body
func responseError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	kind := bridgeerr.KindOf(err)
	switch {
	case errors.Is(err, bridge.ErrOperationNotFound):
		code = http.StatusNotFound
		kind = ""
	case kind == bridgeerr.KindInvalidRequest, kind == bridgeerr.KindUnsupportedChain:
		code = http.StatusBadRequest
	case kind == bridgeerr.KindRelayerUnconfigured:
		code = http.StatusServiceUnavailable
	case bridgeerr.IsRetryable(err):
		code = http.StatusBadGateway
	}

	responseJSON(w, &APIResponse{
		Status:  "error",
		Message: err.Error(),
		Kind:    string(kind),
	}, code)
}
