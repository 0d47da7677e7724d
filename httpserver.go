package main

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olgasafonova/sefaria-mcp-server/metrics"
)

// SecurityConfig configures the HTTP transport middleware.
type SecurityConfig struct {
	// RateLimit is the number of requests allowed per client IP per minute; 0 disables limiting
	RateLimit int

	// MaxBodySize caps request bodies in bytes; 0 disables the cap
	MaxBodySize int64

	// TrustProxy takes the client IP from X-Forwarded-For
	TrustProxy bool
}

// DefaultSecurityConfig returns the limits used by the HTTP transport.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		RateLimit:   120,
		MaxBodySize: 1 << 20,
	}
}

// RateLimiter is a per-IP token bucket refilled at rate tokens per interval.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     int
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Close to stop it.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether ip may make another request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.rate <= 0 || rl.interval <= 0 {
		return true
	}
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		rl.buckets[ip] = &bucket{tokens: float64(rl.rate - 1), last: now}
		return true
	}

	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.tokens += float64(rl.rate) * float64(elapsed) / float64(rl.interval)
		if b.tokens > float64(rl.rate) {
			b.tokens = float64(rl.rate)
		}
	}
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Close stops the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	every := max(rl.interval, time.Minute)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup(2 * every)
		}
	}
}

// cleanup drops buckets idle for longer than maxAge; they would be full anyway.
func (rl *RateLimiter) cleanup(maxAge time.Duration) {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if now.Sub(b.last) > maxAge {
			delete(rl.buckets, ip)
		}
	}
}

// SecurityMiddleware applies rate limiting and body size limits and records
// HTTP metrics for the streamable HTTP transport.
type SecurityMiddleware struct {
	next    http.Handler
	logger  *slog.Logger
	config  SecurityConfig
	limiter *RateLimiter
}

// NewSecurityMiddleware wraps next.
func NewSecurityMiddleware(next http.Handler, logger *slog.Logger, config SecurityConfig) *SecurityMiddleware {
	sm := &SecurityMiddleware{next: next, logger: logger, config: config}
	if config.RateLimit > 0 {
		sm.limiter = NewRateLimiter(config.RateLimit, time.Minute)
	}
	return sm
}

// Close releases the rate limiter.
func (sm *SecurityMiddleware) Close() {
	if sm.limiter != nil {
		sm.limiter.Close()
	}
}

func (sm *SecurityMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	}()

	ip := clientIP(r, sm.config.TrustProxy)
	if sm.limiter != nil && !sm.limiter.Allow(ip) {
		metrics.RateLimitRejections.Inc()
		sm.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
		rec.Header().Set("Retry-After", "60")
		http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if limit := sm.config.MaxBodySize; limit > 0 {
		if r.ContentLength > limit {
			http.Error(rec, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(rec, r.Body, limit)
	}

	sm.next.ServeHTTP(rec, r)
}

// clientIP returns the request's client address without its port.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
