package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Per-IP Rate Limiter
//
// Each client IP gets its own token bucket refilled at perMin/60 tokens per
// second with capacity burst. An empty bucket answers HTTP 429 with a
// Retry-After header (whole seconds).
//
// A background goroutine drops buckets idle for more than
// cleanupIdleDuration so transient IPs do not grow the map forever.

const cleanupIdleDuration = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds per-IP state.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	perMin int
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*ipLimiter
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows perMin requests per minute per IP with the given
// burst capacity. Call Stop to end the cleanup goroutine.
func NewRateLimiter(perMin, burst int, logger *zap.Logger) *RateLimiter {
	if perMin <= 0 {
		perMin = 30
	}
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &RateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMin)),
		burst:    burst,
		perMin:   perMin,
		logger:   logger.Named("ratelimit"),
		limiters: make(map[string]*ipLimiter),
		done:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// allow consumes a token for ip, or reports how long until one is available.
func (rl *RateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware returns a Gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed, retryAfter := rl.allow(ip, time.Now())
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			rl.logger.Warn("rate limit exceeded",
				zap.String("client_ip", ip),
				zap.String("path", c.Request.URL.Path))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.perMin))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": secs,
				"limit":       strconv.Itoa(rl.perMin) + " requests/minute per IP",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.prune(now.Add(-cleanupIdleDuration))
		}
	}
}

func (rl *RateLimiter) prune(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, l := range rl.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}
