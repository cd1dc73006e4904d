package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const (
	DefaultHeader = "Idempotency-Key"
	ReplayHeader  = "X-Idempotent-Replay"

	maxKeyLength  = 255
	maxBodyLength = 1 << 20
)

// Guard wraps mutating handlers with idempotency-key handling.
type Guard struct {
	store  Store
	header string
	ttl    time.Duration
	now    func() time.Time
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard returns a Guard reading keys from header. A nil store yields a pass-through guard.
func NewGuard(store Store, header string, ttl time.Duration, opts ...GuardOption) *Guard {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultHeader
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Guard{store: store, header: header, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Middleware guards the wrapped routes. With required set a request without a key is rejected;
// otherwise it runs unguarded. Responses with status 5xx are not stored so the client may retry.
func (g *Guard) Middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if g == nil || g.store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(g.header))
			if key == "" {
				if required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", g.header+" header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyLength))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body could not be read", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := callerScope(ctx) + "|" + key
			fingerprint := fingerprintOf(r, body)
			outcome, entry, err := g.store.Reserve(ctx, scoped, fingerprint, g.now().UTC(), g.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				requestctx.Logger(ctx).Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "idempotency store unavailable", http.StatusServiceUnavailable))
				return
			}

			switch outcome {
			case OutcomeReplay:
				replay(w, entry)
				return
			case OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
				return
			}

			rec := &bufferedResponse{header: make(http.Header), status: http.StatusOK}
			defer func() {
				if recovered := recover(); recovered != nil {
					g.release(ctx, scoped)
					panic(recovered)
				}
			}()
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				g.release(ctx, scoped)
			} else {
				entry.Status = rec.status
				entry.Header = storableHeader(rec.header)
				entry.Body = rec.body.Bytes()
				if err := g.store.Complete(ctx, entry); err != nil {
					requestctx.Logger(ctx).Warn("idempotency complete failed", zap.Error(err))
					g.release(ctx, scoped)
				}
			}
			rec.flush(w)
		})
	}
}

func (g *Guard) release(ctx context.Context, key string) {
	if err := g.store.Release(context.WithoutCancel(ctx), key); err != nil {
		requestctx.Logger(ctx).Warn("idempotency release failed", zap.Error(err))
	}
}

// RunJanitor purges expired entries every interval until ctx is done.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now.UTC(), batch)
			if err != nil {
				logger.Warn("idempotency purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency keys purged", zap.Int("removed", removed))
			}
		}
	}
}

func callerScope(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	if token := auth.GuestTokenFromContext(ctx); token != "" {
		return "guest:" + token
	}
	return "anonymous"
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.RawQuery))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

// bufferedResponse holds the handler's response until it has been stored.
type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if !b.wroteHeader {
		b.status = status
		b.wroteHeader = true
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
