package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"persona-ritual/backend/pkg/errors"
	"persona-ritual/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterOptions configures the rate limiter
type RateLimiterOptions struct {
	// Name tells limiters apart in logs
	Name string
	// Limit defines requests per second
	Limit rate.Limit
	// Burst defines maximum burst size allowed
	Burst int
	// ExpiryDuration defines how long to keep client state in memory
	ExpiryDuration time.Duration
	// KeyFunc extracts the limiting key from a request (e.g. IP, user ID)
	KeyFunc func(*gin.Context) string
}

// DefaultRateLimiterOptions returns sensible defaults
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Name:           "global",
		Limit:          5,
		Burst:          10,
		ExpiryDuration: time.Hour,
		KeyFunc:        ClientIPKey,
	}
}

// ClientIPKey limits per client address
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP()
}

// SubmissionKey limits anonymous submissions per client address and survey
func SubmissionKey(c *gin.Context) string {
	return c.ClientIP() + "|" + c.Param("id")
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements rate limiting middleware for Gin.
// Idle client entries are swept while serving requests, so it owns no goroutine.
type RateLimiter struct {
	mu        sync.Mutex
	options   RateLimiterOptions
	clients   map[string]*client
	lastSweep time.Time
	logger    *logger.Logger
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(log *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = ClientIPKey
	}
	if opts.ExpiryDuration <= 0 {
		opts.ExpiryDuration = time.Hour
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	return &RateLimiter{
		options:   opts,
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
		logger:    log,
		now:       time.Now,
	}
}

// Middleware returns a Gin middleware for rate limiting
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)
		limiter := r.getLimiter(key)

		reservation := limiter.ReserveN(r.now(), 1)
		if !reservation.OK() {
			r.reject(c, key, time.Second)
			return
		}
		if delay := reservation.DelayFrom(r.now()); delay > 0 {
			reservation.CancelAt(r.now())
			r.reject(c, key, delay)
			return
		}

		c.Next()
	}
}

func (r *RateLimiter) reject(c *gin.Context, key string, retryAfter time.Duration) {
	r.logger.Warn("Rate limit exceeded",
		"limiter", r.options.Name,
		"client", key,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
	)

	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header("X-RateLimit-Limit", strconv.Itoa(r.options.Burst))
	c.Error(errors.NewTooManyRequestsError(errors.CodeRateLimited, "Too many requests. Please try again later."))
	c.Abort()
}

// getLimiter returns a rate limiter for the given key
func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) > time.Minute {
		r.sweepLocked(now)
	}

	v, exists := r.clients[key]
	if !exists {
		limiter := rate.NewLimiter(r.options.Limit, r.options.Burst)
		r.clients[key] = &client{limiter: limiter, lastSeen: now}
		return limiter
	}

	v.lastSeen = now
	return v.limiter
}

// sweepLocked removes entries idle for longer than the expiry
func (r *RateLimiter) sweepLocked(now time.Time) {
	for k, v := range r.clients {
		if now.Sub(v.lastSeen) > r.options.ExpiryDuration {
			delete(r.clients, k)
		}
	}
	r.lastSweep = now
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
