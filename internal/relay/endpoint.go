package relay

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Bigbrotr/bigbrotr/internal/config"
)

// Endpoint identifies one remote relay. Instances are immutable within a
// cycle; eligibility flags are supplied by the external selector.
type Endpoint struct {
	URL       string
	Transport config.TransportClass // empty means "resolve from address"
}

// Route is the resolved dialing plan for one endpoint.
type Route struct {
	Transport config.TransportClass
	Tier      config.TimeoutTier
}

// Resolve decides transport class and timeout tier for an endpoint.
// Precedence: per-endpoint override, explicit endpoint transport, address
// suffix, direct default.
func Resolve(ep Endpoint, cfg config.Config) (Route, error) {
	host, err := hostOf(ep.URL)
	if err != nil {
		return Route{}, err
	}

	class := ep.Transport
	if ov, ok := cfg.Overrides[ep.URL]; ok && ov.Transport != "" {
		class = ov.Transport
	}
	if class == "" {
		if strings.HasSuffix(host, cfg.OnionSuffix) {
			class = config.TransportProxied
		} else {
			class = config.TransportDirect
		}
	}

	var tier config.TimeoutTier
	switch class {
	case config.TransportProxied:
		if !cfg.Proxy.Enabled {
			return Route{}, fmt.Errorf("relay %s needs proxy but proxy is disabled", ep.URL)
		}
		tier = cfg.ProxiedTier
	case config.TransportDirect:
		tier = cfg.DirectTier
	default:
		return Route{}, fmt.Errorf("relay %s: unknown transport class %q", ep.URL, class)
	}

	if ov, ok := cfg.Overrides[ep.URL]; ok {
		if ov.Request > 0 {
			tier.Request = ov.Request
		}
		if ov.Total > 0 {
			tier.Total = ov.Total
		}
	}
	return Route{Transport: class, Tier: tier}, nil
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relay url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("relay url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("relay url %q: missing host", raw)
	}
	return u.Hostname(), nil
}
