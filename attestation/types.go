package attestation

import "fmt"

// Response of GET /v1/attestations/{messageHash}
type Response struct {
	Attestation string `json:"attestation"`
	Status      string `json:"status"`
}

// ErrorResponse is any non-2xx answer other than 404
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("attestation service error [%d]", e.StatusCode)
	}
	return fmt.Sprintf("attestation service error [%d]: %s", e.StatusCode, e.Message)
}

func (e *ErrorResponse) IsRateLimited() bool {
	return e.StatusCode == 429
}
