package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterTTL is how long an idle client's bucket is kept before eviction.
const limiterTTL = 10 * time.Minute

// ipLimiter hands out one token bucket per client IP. Buckets refill at rps
// with capacity burst; idle buckets are evicted lazily on lookup.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rps rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rps,
		burst:   burst,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	bucket, ok := l.clients[ip]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = bucket
	}
	bucket.lastSeen = now

	for key, b := range l.clients {
		if now.Sub(b.lastSeen) > limiterTTL {
			delete(l.clients, key)
		}
	}

	return bucket.limiter.Allow()
}

// rateLimitMiddleware rejects clients that exceed their per-IP allowance
// with 429 Too Many Requests.
func rateLimitMiddleware(limiter *ipLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !limiter.allow(ip) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
