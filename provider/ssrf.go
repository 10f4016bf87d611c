package provider

import (
	"net"
	"net/url"

	"github.com/ivxp-protocol/ivxp-go"
)

// validateDeliveryURL implements the SSRF guard for push targets: the
// scheme must be http/https, and unless allowPrivate is set the host must
// not be "localhost" or a literal loopback, private IPv4, link-local or
// unspecified IP. Other hostnames are not resolved and are allowed.
func validateDeliveryURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ivxp.Wrap(ivxp.ErrInvalidDeliveryURL, "delivery endpoint is not a valid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ivxp.New(ivxp.ErrInvalidDeliveryURL, "delivery endpoint scheme must be http or https")
	}
	if allowPrivate {
		return nil
	}

	host := u.Hostname()
	if host == "localhost" {
		return ivxp.New(ivxp.ErrInvalidDeliveryURL, "delivery endpoint must not target localhost")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		// Hostnames that aren't literal IPs are allowed through; the provider
		// does not perform DNS resolution here to avoid a TOCTOU gap between
		// check and connect.
		return nil
	}
	if isDisallowedIP(ip) {
		return ivxp.New(ivxp.ErrInvalidDeliveryURL, "delivery endpoint targets a private or loopback address")
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		case ip4[0] == 169 && ip4[1] == 254:
			return true
		case ip4[0] == 0:
			return true
		case ip4[0] == 127:
			return true
		}
	}
	return false
}
