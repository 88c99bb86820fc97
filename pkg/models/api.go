package models

// APIErrorType categorizes API failures for clients.
type APIErrorType string

const (
	GeneralErrorType    APIErrorType = "general"
	ValidationErrorType APIErrorType = "validation"
	NotFoundErrorType   APIErrorType = "not_found"
	AuthErrorType       APIErrorType = "auth"
	ConflictErrorType   APIErrorType = "conflict"
)

// APIError is the error half of the response envelope.
type APIError struct {
	Type    APIErrorType `json:"type"`
	Message string       `json:"message"`
}

// APIResponse is the envelope every HTTP handler returns.
type APIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// ReceiptPollResult summarizes one reconciler run.
type ReceiptPollResult struct {
	Polled  int `json:"polled"`
	Updated int `json:"updated"`
}
