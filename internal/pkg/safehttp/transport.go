// Package safehttp provides an HTTP transport that refuses private addresses.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrPrivateAddress is returned when a dial resolves to a loopback, private
// or link-local address.
type ErrPrivateAddress struct {
	IP net.IP
}

func (e *ErrPrivateAddress) Error() string {
	return fmt.Sprintf("access to private IP %s is denied", e.IP)
}

// NewTransport returns a transport whose connections must land on a public
// address. The check runs on the connected peer, after DNS resolution.
func NewTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		ip := net.ParseIP(host)
		if ip == nil {
			conn.Close()
			return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
		}
		if IsPrivate(ip) {
			conn.Close()
			return nil, &ErrPrivateAddress{IP: ip}
		}
		return conn, nil
	}
	return t
}

// IsPrivate reports whether ip is loopback, private, link-local or
// unspecified.
func IsPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
