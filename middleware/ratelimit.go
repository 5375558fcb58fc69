package middleware

import (
	"net/http"
	"strconv"
	"time"

	"toeicprep/metrics"
	"toeicprep/ratelimit"
	"toeicprep/respond"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit enforces a fixed-window limit per client IP. Counter failures
// fail open so a redis outage does not take the API down.
func RateLimit(p ratelimit.Policy, counter ratelimit.Counter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := p.Name + ":" + c.ClientIP()

		hit, err := counter.Incr(ctx, key, p.Window)
		if err != nil {
			logger.Warn("rate limit counter unavailable", zap.String("policy", p.Name), zap.Error(err))
			c.Next()
			return
		}

		remaining := p.Max - hit.Count
		if remaining < 0 {
			remaining = 0
		}
		resetSeconds := int(time.Until(hit.ResetAt).Round(time.Second).Seconds())
		if resetSeconds < 0 {
			resetSeconds = 0
		}
		c.Header("RateLimit-Limit", strconv.Itoa(p.Max))
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("RateLimit-Reset", strconv.Itoa(resetSeconds))

		if hit.Count > p.Max {
			c.Header("Retry-After", strconv.Itoa(resetSeconds))
			metrics.RecordRateLimited(p.Name)
			logger.Warn("rate limit exceeded",
				zap.String("policy", p.Name),
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path),
				zap.Int("count", hit.Count),
			)
			respond.Abort(c, http.StatusTooManyRequests, p.Message, nil)
			return
		}

		c.Next()

		if p.SkipSuccessful && c.Writer.Status() < http.StatusBadRequest {
			if err := counter.Decr(ctx, key); err != nil {
				logger.Warn("rate limit decrement failed", zap.String("policy", p.Name), zap.Error(err))
			}
		}
	}
}

// SlowDown delays requests past the policy threshold. It never rejects.
func SlowDown(s ratelimit.SlowDown, counter ratelimit.Counter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		hit, err := counter.Incr(ctx, s.Name+":"+c.ClientIP(), s.Window)
		if err != nil {
			logger.Warn("slow down counter unavailable", zap.Error(err))
			c.Next()
			return
		}

		if delay := s.Delay(hit.Count); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
