package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// prune expired windows once the table grows past this many callers.
const rateTableSweepSize = 1024

// RateLimit allows limit calls per fixed window for each caller and answers 429 beyond it.
// Callers are keyed by user id, then guest session, then remote address. A non-positive
// limit or window disables the middleware.
func RateLimit(limit int, window time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	if limit <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if clock == nil {
		clock = time.Now
	}
	windows := &rateWindows{limit: limit, length: window, now: clock, callers: make(map[string]rateWindow)}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wait, ok := windows.take(rateKey(r)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if token := auth.GuestTokenFromContext(ctx); token != "" {
		return "guest:" + token
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "ip:" + host
}

type rateWindow struct {
	used    int
	resetAt time.Time
}

type rateWindows struct {
	limit  int
	length time.Duration
	now    func() time.Time

	mu      sync.Mutex
	callers map[string]rateWindow
}

// take consumes one call for key. When the window is exhausted it reports how long
// until the window resets.
func (rw *rateWindows) take(key string) (time.Duration, bool) {
	now := rw.now()
	rw.mu.Lock()
	defer rw.mu.Unlock()

	win, ok := rw.callers[key]
	if !ok || !now.Before(win.resetAt) {
		if len(rw.callers) >= rateTableSweepSize {
			rw.sweep(now)
		}
		rw.callers[key] = rateWindow{used: 1, resetAt: now.Add(rw.length)}
		return 0, true
	}
	if win.used >= rw.limit {
		return win.resetAt.Sub(now), false
	}
	win.used++
	rw.callers[key] = win
	return 0, true
}

func (rw *rateWindows) sweep(now time.Time) {
	for key, win := range rw.callers {
		if !now.Before(win.resetAt) {
			delete(rw.callers, key)
		}
	}
}
