package rpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errMissingToken = errors.New("missing admin token")
	errBadToken     = errors.New("invalid admin token")
	errAdminOff     = errors.New("admin access is disabled")
	errRateLimited  = errors.New("too many requests, slow down")
)

// AdminAuth validates the shared admin token
type AdminAuth struct {
	token string
}

// NewAdminAuth creates an AdminAuth. An empty token disables admin access.
func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Check compares presented against the configured token in constant time
func (a *AdminAuth) Check(presented string) error {
	switch {
	case a.token == "":
		return errAdminOff
	case presented == "":
		return errMissingToken
	case subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1:
		return errBadToken
	}
	return nil
}

// Interceptor requires "Authorization: Bearer <token>" on every call
func (a *AdminAuth) Interceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if err := a.Check(bearerToken(req.Header().Get("Authorization"))); err != nil {
				if errors.Is(err, errBadToken) {
					return nil, connect.NewError(connect.CodePermissionDenied, err)
				}
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(ctx, req)
		}
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// BearerToken is the client-side counterpart of AdminAuth.Interceptor
func BearerToken(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient && token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}

// Limiters idle for longer than limiterIdleTTL are dropped, checked at
// most once per limiterSweepInterval.
const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

type addrLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles calls per client address
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	limiters  map[string]*addrLimiter
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows rps calls per second per address with the given burst.
// A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*addrLimiter),
		now:      time.Now,
	}
}

// Allow reports whether addr may make another call now
func (l *RateLimiter) Allow(addr string) bool {
	if l.limit <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	entry, ok := l.limiters[host]
	if !ok {
		entry = &addrLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[host] = entry
	}
	entry.lastSeen = now
	return entry.lim.AllowN(now, 1)
}

// sweep drops idle limiters; callers hold l.mu
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterSweepInterval {
		return
	}
	l.lastSweep = now
	for host, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, host)
		}
	}
}

// Interceptor rejects calls over the limit with CodeResourceExhausted
func (l *RateLimiter) Interceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if !l.Allow(req.Peer().Addr) {
				return nil, connect.NewError(connect.CodeResourceExhausted, errRateLimited)
			}
			return next(ctx, req)
		}
	}
}

// NewLoggingInterceptor logs every call with its outcome
func NewLoggingInterceptor(logger *zap.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)

			fields := []zap.Field{
				zap.String("procedure", req.Spec().Procedure),
				zap.String("peer", req.Peer().Addr),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				code := connect.CodeOf(err)
				fields = append(fields, zap.String("code", code.String()), zap.Error(err))
				if code == connect.CodeInternal || code == connect.CodeUnknown {
					logger.Error("rpc failed", fields...)
				} else {
					logger.Debug("rpc rejected", fields...)
				}
				return res, err
			}
			logger.Debug("rpc completed", fields...)
			return res, nil
		}
	}
}
