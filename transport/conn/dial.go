package conn

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/openbtps/btps-go/internal/btpserr"
)

// Dialer opens the transport-level connection an Engine frames JSON over.
// The default is a TLS dial; tests substitute a plain or in-memory dialer.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// hostPort extracts "host:port" from a resolved btps:// URL, defaulting to
// wire.DefaultPort when the URL has no explicit port.
func hostPort(rawURL string, defaultPort int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Accept bare "host:port" or "host" forms too.
		if strings.Contains(rawURL, "://") {
			return "", btpserr.Newf(btpserr.InvalidHostname, "malformed host url %q", rawURL)
		}
		u = &url.URL{Host: rawURL}
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	host := u.Hostname()
	if host == "" {
		return "", btpserr.Newf(btpserr.InvalidHostname, "malformed host url %q", rawURL)
	}
	return net.JoinHostPort(host, strconv.Itoa(defaultPort)), nil
}
