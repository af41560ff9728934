package controllers

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	// Reason classifies the error: validation, invalid_transition,
	// request_closed, not_owned, deferred, not_found, not_local, no_feed.
	Reason string `json:"reason,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
