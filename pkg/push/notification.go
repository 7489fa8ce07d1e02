package push

// NotificationDescriptor is the caller-supplied, gateway-agnostic content.
type NotificationDescriptor struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Badge *int              `json:"badge,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

// TokenResult is the outcome of one device address inside a gateway call.
type TokenResult struct {
	Token     string `json:"token"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	// Invalid is set when the gateway reported the address as dead.
	Invalid bool `json:"invalid,omitempty"`
}

// GatewayResult is the canonical per-gateway delivery outcome.
type GatewayResult struct {
	Gateway   Gateway       `json:"gateway"`
	Success   bool          `json:"success"`
	MessageID string        `json:"messageId,omitempty"`
	Error     string        `json:"error,omitempty"`
	Tokens    []TokenResult `json:"tokens,omitempty"`

	Cause error `json:"-"`
}

// Failed builds a failed result for g from err.
func Failed(g Gateway, err error) GatewayResult {
	return GatewayResult{Gateway: g, Error: err.Error(), Cause: err}
}

// InvalidTokens returns the addresses flagged dead by the gateway.
func (r GatewayResult) InvalidTokens() []string {
	var out []string
	for _, t := range r.Tokens {
		if t.Invalid {
			out = append(out, t.Token)
		}
	}
	return out
}
