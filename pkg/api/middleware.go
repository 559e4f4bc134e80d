package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type requestIDKey struct{}

// RequestIDMiddleware injects a unique X-Request-ID into every request context
// and response header. If the client sends an X-Request-ID, it is reused.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// HeaderInternalSecret carries the shared secret for service-to-service calls.
const HeaderInternalSecret = "X-Internal-Secret"

// HMAC signature headers for the bank-email webhook.
const (
	HeaderSignature          = "X-Signature"
	HeaderSignatureTimestamp = "X-Signature-Timestamp"
)

// SignatureReplayWindow bounds how far a signed timestamp may drift from now.
const SignatureReplayWindow = 5 * time.Minute

// CheckInternalSecret compares the shared-secret header in constant time.
// Returns false when no secret is configured (fail closed).
func CheckInternalSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get(HeaderInternalSecret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// InternalAuthMiddleware rejects requests lacking the internal shared secret.
func InternalAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !CheckInternalSecret(r, secret) {
				WriteUnauthorized(w, "Invalid or missing internal secret", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// VerifyWebhookSignature validates an HMAC-SHA256 signature over
// "timestamp.body". The timestamp must be within the replay window and the
// comparison is constant time.
func VerifyWebhookSignature(secret string, body []byte, timestampHeader, signatureHeader string, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("webhook signing not configured")
	}
	if timestampHeader == "" || signatureHeader == "" {
		return fmt.Errorf("missing signature headers")
	}

	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}
	drift := now.Sub(time.Unix(ts, 0))
	if drift > SignatureReplayWindow || drift < -SignatureReplayWindow {
		return fmt.Errorf("signature timestamp outside replay window")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestampHeader))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(strings.ToLower(signatureHeader)), []byte(expected)) != 1 {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// SignWebhookBody produces the signature the sender is expected to supply.
// Exposed for tests and for the outbound notifier.
func SignWebhookBody(secret string, body []byte, ts time.Time) (timestamp, signature string) {
	timestamp = strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return timestamp, hex.EncodeToString(mac.Sum(nil))
}

// OperatorClaims are the JWT claims accepted on management endpoints.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// CheckOperatorToken validates an HS256 bearer token for management calls.
func CheckOperatorToken(r *http.Request, secret string) (*OperatorClaims, error) {
	if secret == "" {
		return nil, fmt.Errorf("operator auth not configured")
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("missing bearer token")
	}

	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ipLimiter tracks a per-client token bucket with its last activity time.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces per-IP rate limits on the monitoring surface.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing rps requests/second with a burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether the given client may proceed.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[clientIP]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[clientIP] = l
	}
	l.lastSeen = time.Now()

	// Opportunistic cleanup of stale buckets.
	if len(rl.limiters) > 10000 {
		cutoff := time.Now().Add(-10 * time.Minute)
		for ip, v := range rl.limiters {
			if v.lastSeen.Before(cutoff) {
				delete(rl.limiters, ip)
			}
		}
	}

	return l.limiter.Allow()
}

// RateLimitMiddleware returns 429 with Retry-After when the per-IP limit is hit.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow(ClientIP(r)) {
				WriteTooManyRequests(w, 1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client address, honoring X-Forwarded-For.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MaxBodyBytes caps request bodies read by ReadBody.
const MaxBodyBytes = 4 << 20

// ReadBody reads and returns the request body, bounded by MaxBodyBytes.
func ReadBody(r *http.Request) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
}
