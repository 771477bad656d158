package network

import (
	"context"
	"net"
	"net/url"
	"time"
)

// DialChecker checks reachability by opening a TCP connection to the host of
// the endpoint returned by Endpoint.
type DialChecker struct {
	Endpoint func() string
	Timeout  time.Duration
}

func (p DialChecker) Reachable(ctx context.Context) bool {
	if p.Endpoint == nil {
		return false
	}
	addr, ok := dialAddress(p.Endpoint())
	if !ok {
		return false
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func dialAddress(endpoint string) (string, bool) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		default:
			return "", false
		}
	}
	return net.JoinHostPort(u.Hostname(), port), true
}
