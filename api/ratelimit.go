package api

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// backoffLimiter tracks attempts per key and locks the key out with
// exponential backoff once threshold attempts have been recorded. Login
// usernames are lower-cased before they reach it.
type backoffLimiter struct {
	mu        sync.Mutex
	attempts  map[string]*attemptRecord
	threshold int
	base      time.Duration
	max       time.Duration
	expiry    time.Duration
	now       func() time.Time
}

type attemptRecord struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

const (
	// accountMaxFailures is the number of consecutive failures for a single
	// username before lockout begins.
	accountMaxFailures = 5
	accountBaseLockout = 1 * time.Minute
	accountMaxLockout  = 15 * time.Minute

	ipMaxFailures = 20
	ipBaseLockout = 1 * time.Minute
	ipMaxLockout  = 30 * time.Minute

	// attemptExpiry is how long after the last attempt before a record is
	// forgotten.
	attemptExpiry = 1 * time.Hour
)

func newBackoffLimiter(threshold int, base, max time.Duration) *backoffLimiter {
	return &backoffLimiter{
		attempts:  make(map[string]*attemptRecord),
		threshold: threshold,
		base:      base,
		max:       max,
		expiry:    attemptExpiry,
		now:       time.Now,
	}
}

// check reports whether key is locked out and for how long.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastAttempt) > rl.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// record counts one attempt against key.
func (rl *backoffLimiter) record(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	rec.count++
	rec.lastAttempt = rl.now()

	if rec.count >= rl.threshold {
		// base * 2^(count - threshold), capped at max.
		lockout := rl.base
		for i := 0; i < rec.count-rl.threshold; i++ {
			lockout *= 2
			if lockout > rl.max {
				lockout = rl.max
				break
			}
		}
		rec.lockedUntil = rec.lastAttempt.Add(lockout)
	}
}

func (rl *backoffLimiter) reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastAttempt) > rl.expiry {
			delete(rl.attempts, key)
		}
	}
}

// windowLimiter locks every caller out once max events land inside a
// sliding window.
type windowLimiter struct {
	mu          sync.Mutex
	events      []time.Time
	lockedUntil time.Time
	window      time.Duration
	max         int
	lockout     time.Duration
	now         func() time.Time
}

const (
	globalWindow      = 1 * time.Minute
	globalMaxFailures = 100
	globalLockout     = 5 * time.Minute
)

func newWindowLimiter(window time.Duration, max int, lockout time.Duration) *windowLimiter {
	return &windowLimiter{window: window, max: max, lockout: lockout, now: time.Now}
}

func (rl *windowLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.events = trimWindow(append(rl.events, now), now, rl.window)
	if len(rl.events) >= rl.max {
		rl.lockedUntil = now.Add(rl.lockout)
	}
}

// loginLimiter combines per-username, per-IP and global failure limits for
// the login relay. Only failures count.
type loginLimiter struct {
	account *backoffLimiter
	ip      *backoffLimiter
	global  *windowLimiter
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		account: newBackoffLimiter(accountMaxFailures, accountBaseLockout, accountMaxLockout),
		ip:      newBackoffLimiter(ipMaxFailures, ipBaseLockout, ipMaxLockout),
		global:  newWindowLimiter(globalWindow, globalMaxFailures, globalLockout),
	}
}

func (l *loginLimiter) check(username, ip string) (bool, time.Duration) {
	if blocked, d := l.global.check(); blocked {
		return true, d
	}
	if ip != "" {
		if blocked, d := l.ip.check(ip); blocked {
			return true, d
		}
	}
	if username != "" {
		return l.account.check(username)
	}
	return false, 0
}

func (l *loginLimiter) recordFailure(username, ip string) {
	l.global.record()
	if ip != "" {
		l.ip.record(ip)
	}
	if username != "" {
		l.account.record(username)
	}
}

func (l *loginLimiter) recordSuccess(username, ip string) {
	if ip != "" {
		l.ip.reset(ip)
	}
	if username != "" {
		l.account.reset(username)
	}
}

func (l *loginLimiter) sweep() {
	l.account.sweep()
	l.ip.sweep()
}

const (
	// regIPMaxRequests is the maximum registrations per IP before lockout.
	regIPMaxRequests = 5
	regIPBaseLockout = 5 * time.Minute
	regIPMaxLockout  = 1 * time.Hour

	regGlobalWindow      = 1 * time.Minute
	regGlobalMaxRequests = 50
	regGlobalLockout     = 5 * time.Minute
)

// registrationLimiter throttles account creation. Unlike logins, every
// request counts regardless of outcome.
type registrationLimiter struct {
	ip     *backoffLimiter
	global *windowLimiter
}

func newRegistrationLimiter() *registrationLimiter {
	return &registrationLimiter{
		ip:     newBackoffLimiter(regIPMaxRequests, regIPBaseLockout, regIPMaxLockout),
		global: newWindowLimiter(regGlobalWindow, regGlobalMaxRequests, regGlobalLockout),
	}
}

func (l *registrationLimiter) check(ip string) (bool, time.Duration) {
	if blocked, d := l.global.check(); blocked {
		return true, d
	}
	if ip == "" {
		return false, 0
	}
	return l.ip.check(ip)
}

func (l *registrationLimiter) record(ip string) {
	l.global.record()
	if ip != "" {
		l.ip.record(ip)
	}
}

// writeRateLimited sends a 429 Too Many Requests response in the relay's
// message envelope.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": msg})
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// extractClientIP returns the client IP for rate limiting using the API's
// configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// when the request's RemoteAddr falls within one of trustedProxies. With no
// trusted proxies RemoteAddr is always returned.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	proxyTrusted := false
	if len(trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for part := range strings.SplitSeq(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			for elem := range strings.SplitSeq(fwd, ",") {
				for param := range strings.SplitSeq(elem, ";") {
					param = strings.TrimSpace(param)
					if !strings.HasPrefix(strings.ToLower(param), "for=") {
						continue
					}
					if ip, ok := parseIPCandidate(param[4:]); ok {
						return ip
					}
				}
			}
		}

		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}
	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}

// sweepInterval is how often expired limiter records are dropped.
const sweepInterval = 10 * time.Minute

// RunSweeper periodically drops expired rate-limit records until ctx is
// done.
func (a *API) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.limiter.sweep()
			a.regLimiter.ip.sweep()
		}
	}
}
