package registry

import (
	"errors"
	"net/netip"
	"net/url"
	"strings"
)

// Ranges rejected in addition to private, loopback, link-local, multicast
// and unspecified addresses.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

var (
	errCallbackInvalid  = errors.New("must be a valid URL")
	errCallbackScheme   = errors.New("must use http or https protocol")
	errCallbackLocal    = errors.New("cannot use localhost or private IP addresses")
	errCallbackReserved = errors.New("cannot use private or reserved IP addresses")
	errCallbackFragment = errors.New("cannot contain URL fragments")
)

// ValidateCallbackURL checks that raw is an absolute http(s) URL without a
// fragment whose host is neither localhost nor a private or reserved address.
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" || u.Opaque != "" {
		return errCallbackInvalid
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errCallbackScheme
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errCallbackInvalid
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return errCallbackLocal
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.IsLoopback() || addr.IsUnspecified() {
			return errCallbackLocal
		}
		if !publicAddr(addr) {
			return errCallbackReserved
		}
	}

	if u.Fragment != "" || strings.Contains(raw, "#") {
		return errCallbackFragment
	}
	return nil
}

func publicAddr(addr netip.Addr) bool {
	if addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() || !addr.IsGlobalUnicast() {
		return false
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}
