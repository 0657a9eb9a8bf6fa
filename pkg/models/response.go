package models

// ErrorType classifies API errors for clients.
type ErrorType string

const (
	GeneralErrorType    ErrorType = "general_error"
	ValidationErrorType ErrorType = "validation_error"
	NotFoundErrorType   ErrorType = "not_found_error"
	ConflictErrorType   ErrorType = "conflict_error"
)

// APIResponse is the envelope of every admin API response.
type APIResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorType ErrorType `json:"error_type,omitempty"`
}
