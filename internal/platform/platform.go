// Package platform holds what the gateway adapters share: error
// classification of HTTP failures and per-token result helpers.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// StatusCode extracts the HTTP status from a failed requests call.
func StatusCode(err error) (int, bool) {
	var re *requests.ResponseError
	if errors.As(err, &re) {
		return re.StatusCode, true
	}
	return 0, false
}

// Classify maps a failed HTTP exchange onto the error taxonomy:
// 401/403 is ErrAuthFailure, any other status ErrGatewayRejected, and
// everything else (DNS, TLS, timeouts, an open breaker) ErrNetwork.
func Classify(g push.Gateway, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", push.ErrTimeout, g, err)
	}
	if code, ok := StatusCode(err); ok {
		switch code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s returned %d", push.ErrAuthFailure, g, code)
		default:
			return fmt.Errorf("%w: %s returned %d", push.ErrGatewayRejected, g, code)
		}
	}
	return fmt.Errorf("%w: %s: %w", push.ErrNetwork, g, err)
}

// IsAuthStatus reports whether err carries a 401 or 403.
func IsAuthStatus(err error) bool {
	code, ok := StatusCode(err)
	return ok && (code == http.StatusUnauthorized || code == http.StatusForbidden)
}

// Rejected builds a gateway rejection with the provider's own code and reason.
func Rejected(g push.Gateway, code any, reason string) error {
	return fmt.Errorf("%w: %s code=%v %s", push.ErrGatewayRejected, g, code, reason)
}

// NoTokens is the result for a call without addresses.
func NoTokens(g push.Gateway) push.GatewayResult {
	return push.Failed(g, fmt.Errorf("%w: %s", push.ErrNoTokensFound, g))
}

// Tally folds per-token results into a gateway result. It succeeds when at
// least one token was accepted; otherwise cause, the first per-token failure,
// becomes the gateway error.
func Tally(g push.Gateway, tokens []push.TokenResult, cause error) push.GatewayResult {
	res := push.GatewayResult{Gateway: g, Tokens: tokens}
	for _, t := range tokens {
		if t.Success {
			res.Success = true
			if res.MessageID == "" {
				res.MessageID = t.MessageID
			}
		}
	}
	if !res.Success {
		if cause == nil {
			cause = fmt.Errorf("%w: %s: no token accepted", push.ErrGatewayRejected, g)
		}
		res.Error = cause.Error()
		res.Cause = cause
	}
	return res
}

// Batch marks every token with one shared outcome.
func Batch(tokens []string, ok bool, messageID, errMsg string) []push.TokenResult {
	out := make([]push.TokenResult, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, push.TokenResult{Token: t, Success: ok, MessageID: messageID, Error: errMsg})
	}
	return out
}
