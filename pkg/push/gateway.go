// Package push contains the public domain model of the push delivery service:
// gateways, device tokens, provider credentials, notification descriptors and
// the delivery reports produced by a fan-out.
package push

import (
	"fmt"
	"strings"
)

// Gateway identifies a third-party push delivery provider.
type Gateway string

const (
	GatewayHuawei Gateway = "huawei"
	GatewayXiaomi Gateway = "xiaomi"
	GatewayOppo   Gateway = "oppo"
	GatewayVivo   Gateway = "vivo"
	GatewayAPNS   Gateway = "apns"
	GatewayFCM    Gateway = "fcm"
	GatewayWeb    Gateway = "web"
)

// Gateways lists every supported provider in a stable order.
var Gateways = []Gateway{
	GatewayHuawei,
	GatewayXiaomi,
	GatewayOppo,
	GatewayVivo,
	GatewayAPNS,
	GatewayFCM,
	GatewayWeb,
}

// Valid reports whether g is one of the supported providers.
func (g Gateway) Valid() bool {
	for _, known := range Gateways {
		if g == known {
			return true
		}
	}
	return false
}

func (g Gateway) String() string {
	return string(g)
}

// ParseGateway normalises raw and checks it against the supported providers.
func ParseGateway(raw string) (Gateway, error) {
	g := Gateway(strings.ToLower(strings.TrimSpace(raw)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGateway, raw)
	}
	return g, nil
}
