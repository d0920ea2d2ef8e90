package apiclient

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/edusekai/edusekai/internal/observability/logger"
	"github.com/edusekai/edusekai/internal/observability/metrics"
	"github.com/edusekai/edusekai/internal/session"
)

// RefreshError reports a failed session refresh. It matches
// session.ErrSessionEnded under errors.Is.
type RefreshError struct {
	Status int // zero when the refresh never got a response
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("session refresh failed: status %d", e.Status)
	}
	return fmt.Sprintf("session refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{session.ErrSessionEnded}
	}
	return []error{session.ErrSessionEnded, e.Err}
}

// RefreshFunc performs one refresh round-trip and returns the cookies the
// backend issued.
type RefreshFunc func(ctx context.Context) ([]*http.Cookie, error)

// Refresher guarantees at most one refresh in flight per flight key.
// Callers that arrive while a refresh is running wait for it and share its
// outcome. Once the refresh settles the key is released.
type Refresher struct {
	group   singleflight.Group
	timeout time.Duration
	metrics *metrics.Gateway
}

// NewRefresher creates a refresher. A zero timeout lets a refresh run until
// the backend answers.
func NewRefresher(timeout time.Duration, m *metrics.Gateway) *Refresher {
	if m == nil {
		m = metrics.NoopGateway()
	}
	return &Refresher{timeout: timeout, metrics: m}
}

// Refresh joins or starts the refresh for key. The refresh itself is not
// cancelled when ctx is; ctx only bounds how long this caller waits.
func (r *Refresher) Refresh(ctx context.Context, key string, fn RefreshFunc) ([]*http.Cookie, error) {
	// leader is written by the flight before its result is delivered.
	leader := false
	ch := r.group.DoChan(key, func() (any, error) {
		leader = true
		return r.run(ctx, key, fn)
	})

	select {
	case res := <-ch:
		if !leader {
			metrics.Add(ctx, r.metrics.RefreshShared)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		cookies, _ := res.Val.([]*http.Cookie)
		return cookies, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Refresher) run(ctx context.Context, key string, fn RefreshFunc) ([]*http.Cookie, error) {
	rctx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	cookies, err := fn(rctx)
	if r.metrics.RefreshDuration != nil {
		r.metrics.RefreshDuration.Record(rctx, time.Since(start).Seconds())
	}

	if err != nil {
		var re *RefreshError
		if !errors.As(err, &re) {
			err = &RefreshError{Err: err}
		}
		metrics.Add(rctx, r.metrics.RefreshTotal, metrics.Result("failure"))
		slog.WarnContext(rctx, "session refresh failed",
			logger.Component("apiclient"),
			logger.FlightKey(key),
			logger.Error(err),
		)
		return nil, err
	}

	metrics.Add(rctx, r.metrics.RefreshTotal, metrics.Result("success"))
	slog.DebugContext(rctx, "session refreshed",
		logger.Component("apiclient"),
		logger.FlightKey(key),
	)
	return cookies, nil
}

// FlightKey derives the single-flight key for a browser context from its
// refresh credential. The raw token never leaves this function.
func FlightKey(refreshToken string) string {
	if refreshToken == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:16])
}
