package dto

// Envelope is the shared response shape for every endpoint.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

func OK(message string, data any) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

func Err(code, message string, data any) Envelope {
	return Envelope{Success: false, Message: message, ErrorCode: code, Data: data}
}
