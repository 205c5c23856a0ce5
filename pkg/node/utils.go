package node

import (
	"net"
	"strings"
)

// NormalizeHostPort strips an http:// or https:// scheme from addr and
// appends defPort when addr carries no port.
func NormalizeHostPort(addr, defPort string) string {
	for _, scheme := range []string{"http://", "https://"} {
		if rest, ok := strings.CutPrefix(addr, scheme); ok {
			addr = rest
			break
		}
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defPort)
}

// probeURL builds the health check URL for a peer address.
func probeURL(addr, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "http://" + NormalizeHostPort(addr, "8080") + path
}
