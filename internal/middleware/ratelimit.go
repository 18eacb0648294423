package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client's bucket is kept.
const staleAfter = 10 * time.Minute

// RateLimiter is a per-client-IP token bucket. It guards the register and
// login endpoints against password guessing.
//
// Buckets live in memory, so the limit is per process.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
	logger  *slog.Logger
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per IP per minute, with bursts
// of up to burst requests.
func NewRateLimiter(perMinute, burst int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
		logger:  logger,
	}
}

// Allow consumes one token from key's bucket. When the bucket is empty it
// returns false and how long to wait for the next token.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep drops buckets that have been idle for a while and are full again.
// The server calls it from a ticker.
func (l *RateLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > staleAfter && b.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header. The key is the client IP, so chi's RealIP should run first.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := l.Allow(ip)
		if !ok {
			l.logger.Warn("rate limited",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			secs := max(int(wait.Round(time.Second)/time.Second), 1)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many requests, try again later"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. After RealIP it may already be
// a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
