// ABOUTME: Per-client token-bucket rate limiting for the read API.
// ABOUTME: Limiters are keyed by client address and pruned when idle.

package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused client limiter survives before the
// janitor prunes it.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per client address.
type limiterPool struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
	done    chan struct{}
	once    sync.Once
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	p := &limiterPool{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		done:    make(chan struct{}),
	}
	go p.janitor()
	return p
}

// allow reports whether the client may proceed, consuming one token.
func (p *limiterPool) allow(clientAddr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[clientAddr]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.clients[clientAddr] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

func (p *limiterPool) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.done:
			return
		}
	}
}

func (p *limiterPool) prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-limiterIdleTTL)
	for addr, c := range p.clients {
		if c.lastSeen.Before(cutoff) {
			delete(p.clients, addr)
		}
	}
}

func (p *limiterPool) close() {
	p.once.Do(func() { close(p.done) })
}

// middleware rejects over-limit requests with 429. Rate limiting applies to
// the read API only: the webhook endpoint must always answer 200.
func (p *limiterPool) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !p.allow(host) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
