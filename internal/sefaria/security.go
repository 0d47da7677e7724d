package sefaria

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/metrics"
)

// Private/internal IP ranges that should be blocked for SSRF protection
var privateIPBlocks []*net.IPNet

func init() {
	privateCIDRs := []string{
		"127.0.0.0/8",        // IPv4 loopback
		"10.0.0.0/8",         // RFC 1918
		"172.16.0.0/12",      // RFC 1918
		"192.168.0.0/16",     // RFC 1918
		"169.254.0.0/16",     // Link-local, cloud metadata
		"0.0.0.0/8",          // Current network
		"100.64.0.0/10",      // Shared address space (CGN)
		"192.0.0.0/24",       // IETF Protocol assignments
		"192.0.2.0/24",       // TEST-NET-1
		"198.51.100.0/24",    // TEST-NET-2
		"203.0.113.0/24",     // TEST-NET-3
		"224.0.0.0/4",        // Multicast
		"240.0.0.0/4",        // Reserved
		"255.255.255.255/32", // Broadcast
		"::1/128",            // IPv6 loopback
		"fe80::/10",          // IPv6 link-local
		"fc00::/7",           // IPv6 unique local
		"ff00::/8",           // IPv6 multicast
	}
	for _, cidr := range privateCIDRs {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil {
			privateIPBlocks = append(privateIPBlocks, block)
		}
	}
}

// isPrivateIP checks if an IP address is private/internal. Nil counts as private.
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// URLGuard screens user-supplied image URLs before any connection is made.
type URLGuard struct {
	allowPrivate bool
	lookup       func(ctx context.Context, host string) ([]net.IP, error)
}

// NewURLGuard returns a guard that blocks private and loopback destinations.
func NewURLGuard() *URLGuard {
	return &URLGuard{lookup: func(ctx context.Context, host string) ([]net.IP, error) {
		return net.DefaultResolver.LookupIP(ctx, "ip", host)
	}}
}

// AllowPrivate returns a guard that only validates URL syntax. Tests use it
// to reach httptest servers on loopback.
func AllowPrivate() *URLGuard {
	return &URLGuard{allowPrivate: true}
}

// Check validates raw and, unless private hosts are allowed, resolves its host
// and rejects it when any address is private. DNS failures are treated as blocked.
func (g *URLGuard) Check(ctx context.Context, raw string) error {
	u, err := parseImageURL(raw)
	if err != nil {
		metrics.SSRFBlocked.WithLabelValues("invalid_url").Inc()
		return err
	}
	if g.allowPrivate {
		return nil
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return blocked("private_ip", raw, fmt.Sprintf("address %s is private", ip))
		}
		return nil
	}
	ips, err := g.lookup(ctx, host)
	if err != nil {
		return blocked("dns_error", raw, fmt.Sprintf("DNS resolution failed: %v", err))
	}
	if len(ips) == 0 {
		return blocked("dns_error", raw, "DNS returned no addresses")
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return blocked("private_ip", raw, fmt.Sprintf("%s resolves to private address %s", host, ip))
		}
	}
	return nil
}

func blocked(kind, raw, reason string) error {
	metrics.SSRFBlocked.WithLabelValues(kind).Inc()
	return apierrors.NewValidationError("image_url", raw, "blocked: "+reason)
}

// safeDialer re-checks the resolved address at connect time so a DNS answer
// that changes after Check cannot reach a private network.
var safeDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
	Control: func(network, address string, c syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("invalid address format: %w", err)
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return fmt.Errorf("failed to parse IP: %s", host)
		}
		if isPrivateIP(ip) {
			metrics.SSRFBlocked.WithLabelValues("dial").Inc()
			return fmt.Errorf("connection to private IP %s blocked (SSRF protection)", host)
		}
		return nil
	},
}

// NewImageHTTPClient returns the HTTP client used for manuscript images. It
// dials through safeDialer and refuses redirects to private hosts.
func NewImageHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         safeDialer.DialContext,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errors.New("redirect to non-http scheme blocked")
			}
			if ip := net.ParseIP(req.URL.Hostname()); ip != nil && isPrivateIP(ip) {
				metrics.SSRFBlocked.WithLabelValues("redirect").Inc()
				return errors.New("redirect to private network blocked")
			}
			return nil
		},
	}
}
