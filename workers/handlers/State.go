package handlers

import (
	"net/http"
)

// liveness only, no dependency is checked
func State(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIStateResponse{
		Status: "ok",
	}, http.StatusOK)
}
