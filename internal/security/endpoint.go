package security

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrNotPublic is wrapped by every ValidatePublicURL rejection.
var ErrNotPublic = errors.New("url is not publicly reachable")

// lookupHost is swapped in tests.
var lookupHost = net.LookupHost

// ValidatePublicURL accepts only https URLs whose host is, and resolves to,
// a public address. The gateway sends paying customers to these URLs after
// checkout, so an internal host here would leak a redirect into the network.
func ValidatePublicURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: malformed %q", ErrNotPublic, raw)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q, want https", ErrNotPublic, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("%w: host %q", ErrNotPublic, host)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(host, addr)
	}

	resolved, err := lookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: resolve %q: %v", ErrNotPublic, host, err)
	}
	for _, s := range resolved {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if err := checkAddr(host, addr); err != nil {
			return err
		}
	}
	return nil
}

func checkAddr(host string, addr netip.Addr) error {
	addr = addr.Unmap()
	var kind string
	switch {
	case addr.IsLoopback():
		kind = "loopback"
	case addr.IsPrivate():
		kind = "private"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		kind = "link-local"
	case addr.IsUnspecified():
		kind = "unspecified"
	default:
		return nil
	}
	return fmt.Errorf("%w: %q is %s (%s)", ErrNotPublic, host, kind, addr)
}
