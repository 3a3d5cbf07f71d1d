// Token bucket rate limiter for the operator API
package limiter

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/richmills3/bitcoin-sv/internal/logger"
	"github.com/richmills3/bitcoin-sv/pkg/config"
	"golang.org/x/time/rate"
)

// RateLimiter provides per-IP and global rate limiting
type RateLimiter struct {
	config config.RateLimiterConfig
	log    *logger.Logger

	// IP-based limiters
	ipLimiters map[string]*ipLimiter
	ipMutex    sync.RWMutex

	// Global limiter
	globalLimiter *rate.Limiter

	// Cleanup
	cleanupInterval time.Duration
	stopChan        chan struct{}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimiterConfig, log *logger.Logger) *RateLimiter {
	rl := &RateLimiter{
		config:     cfg,
		log:        log,
		ipLimiters: make(map[string]*ipLimiter),
		globalLimiter: rate.NewLimiter(
			perWindow(cfg.GlobalLimit, cfg.GlobalWindow),
			burst(cfg.GlobalLimit, cfg.BurstMultiplier),
		),
		cleanupInterval: 5 * time.Minute,
		stopChan:        make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanupStale()

	return rl
}

// CheckRequest checks whether a request from the given remote address is
// allowed
func (rl *RateLimiter) CheckRequest(remoteAddr string) (bool, error) {
	if !rl.config.Enabled {
		return true, nil
	}

	// Check global limit first (early reject)
	if !rl.globalLimiter.Allow() {
		return false, fmt.Errorf("global rate limit exceeded")
	}

	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}

	if !rl.getIPLimiter(ip).Allow() {
		rl.log.WithField("ip", ip).Warn("IP rate limit exceeded")
		return false, fmt.Errorf("IP rate limit exceeded")
	}

	return true, nil
}

// Stop terminates the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopChan)
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	rl.ipMutex.Lock()
	defer rl.ipMutex.Unlock()

	l, ok := rl.ipLimiters[ip]
	if !ok {
		l = &ipLimiter{
			limiter: rate.NewLimiter(
				perWindow(rl.config.IPLimit, rl.config.IPWindow),
				burst(rl.config.IPLimit, rl.config.BurstMultiplier),
			),
		}
		rl.ipLimiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

// cleanupStale drops limiters for IPs not seen recently
func (rl *RateLimiter) cleanupStale() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * rl.cleanupInterval)
			rl.ipMutex.Lock()
			for ip, l := range rl.ipLimiters {
				if l.lastSeen.Before(cutoff) {
					delete(rl.ipLimiters, ip)
				}
			}
			rl.ipMutex.Unlock()
		case <-rl.stopChan:
			return
		}
	}
}

func perWindow(limit int, window time.Duration) rate.Limit {
	if window <= 0 {
		window = time.Minute
	}
	return rate.Limit(float64(limit) / window.Seconds())
}

func burst(limit int, multiplier float64) int {
	if multiplier < 1 {
		multiplier = 1
	}
	return int(float64(limit) * multiplier)
}
