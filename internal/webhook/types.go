package webhook

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	// Path is the URL path for this webhook (e.g., "/hooks/github")
	Path string

	// Command is the chat command the delivery is relayed as.
	Command string

	// Secret is the HMAC secret for signature verification
	Secret string

	// SignatureHeader is the HTTP header containing the HMAC signature
	// Examples: "X-Hub-Signature-256" (GitHub)
	SignatureHeader string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64

	// CallbackURL receives the reply as a JSON POST. Empty logs it instead.
	CallbackURL string
}

// TriggerResponse is the JSON response for accepted deliveries.
type TriggerResponse struct {
	CorrelationID uint64 `json:"correlation_id"`
	Command       string `json:"command"`
}

// CallbackPayload is posted to an endpoint's CallbackURL when the reply
// arrives.
type CallbackPayload struct {
	CorrelationID uint64 `json:"correlation_id"`
	Command       string `json:"command"`
	Path          string `json:"path"`
	Reply         string `json:"reply"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

const DefaultMaxBodySize = 1048576 // 1 MB
