package gateway

import (
	"net"
	"sync"
	"time"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authRateLimiter tracks failed handshakes per IP.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

func newAuthRateLimiter() *authRateLimiter {
	rl := &authRateLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.periodicCleanup()
	return rl
}

func (l *authRateLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *authRateLimiter) periodicCleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip := range l.failures {
				l.pruneLocked(ip)
			}
			l.mu.Unlock()
		}
	}
}

// pruneLocked drops failures outside the window and returns how many remain.
func (l *authRateLimiter) pruneLocked(host string) int {
	cutoff := l.now().Add(-authRateWindow)
	recent := l.failures[host]
	filtered := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		delete(l.failures, host)
		return 0
	}
	l.failures[host] = filtered
	return len(filtered)
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(host) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	// Evict the oldest host once the table is full.
	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP, oldestTime = ip, times[0]
			}
		}
		delete(l.failures, oldestIP)
	}

	l.failures[host] = append(l.failures[host], l.now())
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
