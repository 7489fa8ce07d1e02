package push

import "errors"

var (
	// ErrInvalidGateway is returned when a request names an unsupported provider.
	ErrInvalidGateway = errors.New("invalid gateway")
	// ErrInvalidToken is returned when a device token record is incomplete.
	ErrInvalidToken = errors.New("invalid device token")

	// ErrAuthFailure marks a failed credential acquisition for one gateway.
	ErrAuthFailure = errors.New("gateway auth failure")
	// ErrNetwork marks a transport-level failure calling a gateway.
	ErrNetwork = errors.New("gateway network error")
	// ErrGatewayRejected marks a well-formed gateway response reporting failure.
	ErrGatewayRejected = errors.New("gateway rejected notification")
	// ErrTimeout marks an adapter invocation that exceeded its deadline.
	ErrTimeout = errors.New("gateway timeout")

	// ErrNoTokensFound is reported when the user has no registered device.
	ErrNoTokensFound = errors.New("no tokens found")
	// ErrPartialFailure is reported when some, but not all, gateways failed.
	ErrPartialFailure = errors.New("partial failure")
	// ErrAllGatewaysFailed is reported when every invoked gateway failed.
	ErrAllGatewaysFailed = errors.New("all gateways failed")
	// ErrServiceUnavailable is reported when no gateway is configured at all.
	ErrServiceUnavailable = errors.New("no gateway configured")
)
