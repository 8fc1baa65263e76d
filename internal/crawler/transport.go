package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// isPrivateOrLocalIP reports whether ip is loopback, private, link-local or unspecified.
func isPrivateOrLocalIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ssrfSafeDialContext resolves the target and refuses to connect to private
// or local addresses. Checking at dial time also covers DNS rebinding.
func ssrfSafeDialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}

		for _, ip := range ips {
			if isPrivateOrLocalIP(ip.IP) {
				return nil, fmt.Errorf("blocked connection to private/local IP %s for host %s", ip.IP, host)
			}
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no addresses found for host %s", host)
		}

		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
	}
}

// newTransport builds the shared transport for page fetches and probes.
func newTransport(config *Config) http.RoundTripper {
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if !config.SkipSSRFCheck {
		base.DialContext = ssrfSafeDialContext()
	}

	return otelhttp.NewTransport(base)
}

// hostLimiter paces requests per host with a token bucket.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newHostLimiter(requestsPerSecond int) *hostLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    requestsPerSecond,
	}
}

// wait blocks until host may receive another request. A nil limiter never blocks.
func (hl *hostLimiter) wait(ctx context.Context, host string) error {
	if hl == nil {
		return nil
	}

	hl.mu.Lock()
	limiter, exists := hl.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(hl.rate, hl.burst)
		hl.limiters[host] = limiter
	}
	hl.mu.Unlock()

	return limiter.Wait(ctx)
}
