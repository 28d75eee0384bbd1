package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// SettlementFailure is the body returned when a settlement or purchase is
// rejected. Action tells the caller whether to fix the input or resend it
// unchanged.
type SettlementFailure struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
	Retryable bool   `json:"retryable"`
	Action    string `json:"action"`
	Details   any    `json:"details,omitempty"`
}
